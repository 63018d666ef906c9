package store

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"sep_psp/internal/models"
)

// AccountRepository is the gorm backed AccountStore
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByCard(ctx context.Context, pan string) (*models.BankAccount, *models.Card, error) {
	var card models.Card
	if err := r.db.WithContext(ctx).Where("pan = ?", pan).First(&card).Error; err != nil {
		return nil, nil, translate(err)
	}
	account, err := r.GetByID(ctx, card.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return account, &card, nil
}

func (r *AccountRepository) GetByMerchant(ctx context.Context, merchantID string) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).First(&account).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (r *AccountRepository) GetByAccountNumber(ctx context.Context, accountNumber string) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := r.db.WithContext(ctx).Where("account_number = ?", accountNumber).First(&account).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uint) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (r *AccountRepository) Debit(ctx context.Context, account *models.BankAccount, amount decimal.Decimal) error {
	return r.writeBalance(ctx, account, account.Balance.Sub(amount))
}

func (r *AccountRepository) Credit(ctx context.Context, account *models.BankAccount, amount decimal.Decimal) error {
	return r.writeBalance(ctx, account, account.Balance.Add(amount))
}

func (r *AccountRepository) writeBalance(ctx context.Context, account *models.BankAccount, balance decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.BankAccount{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": account.Version + 1,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	account.Balance = balance
	account.Version++
	return nil
}

// BankPaymentRepository is the gorm backed BankPaymentStore
type BankPaymentRepository struct {
	db *gorm.DB
}

func NewBankPaymentRepository(db *gorm.DB) *BankPaymentRepository {
	return &BankPaymentRepository{db: db}
}

func (r *BankPaymentRepository) Create(ctx context.Context, payment *models.BankPayment) error {
	return translate(r.db.WithContext(ctx).Create(payment).Error)
}

func (r *BankPaymentRepository) FindByAcquirerOrder(ctx context.Context, bankID string, role models.BankPaymentRole, acquirerOrderID string) (*models.BankPayment, error) {
	var payment models.BankPayment
	err := r.db.WithContext(ctx).
		Where("bank_id = ? AND role = ? AND acquirer_order_id = ?", bankID, role, acquirerOrderID).
		First(&payment).Error
	if err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *BankPaymentRepository) FindByIssuerOrder(ctx context.Context, bankID string, issuerOrderID string) (*models.BankPayment, error) {
	var payment models.BankPayment
	err := r.db.WithContext(ctx).
		Where("bank_id = ? AND issuer_order_id = ?", bankID, issuerOrderID).
		First(&payment).Error
	if err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *BankPaymentRepository) FindOpen(ctx context.Context, bankID string, route models.BankPaymentRoute, merchantOrderID string) (*models.BankPayment, error) {
	var payment models.BankPayment
	err := r.db.WithContext(ctx).
		Where("bank_id = ? AND role = ? AND route = ? AND merchant_order_id = ? AND status = ?",
			bankID, models.BankPaymentRoleAcquirer, route, merchantOrderID, models.BankPaymentStatusProcessing).
		Order("created_at desc").
		First(&payment).Error
	if err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *BankPaymentRepository) Save(ctx context.Context, payment *models.BankPayment) error {
	return translate(r.db.WithContext(ctx).Save(payment).Error)
}

func (r *BankPaymentRepository) Transition(ctx context.Context, id uint, from, to models.BankPaymentStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.BankPayment{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.BankPayment{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return translate(err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}
