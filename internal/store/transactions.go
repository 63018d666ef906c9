package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"sep_psp/internal/models"
)

// TransactionRepository is the gorm backed TransactionStore
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) error {
	return translate(r.db.WithContext(ctx).Create(tx).Error)
}

func (r *TransactionRepository) FindByPSPID(ctx context.Context, pspTransactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Where("psp_transaction_id = ?", pspTransactionID).First(&tx).Error; err != nil {
		return nil, translate(err)
	}
	return &tx, nil
}

func (r *TransactionRepository) FindByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("merchant_order_id = ?", merchantOrderID).
		Order("created_at desc").
		Find(&txs).Error
	return txs, translate(err)
}

func (r *TransactionRepository) FindDuplicate(ctx context.Context, merchantID uint, merchantTimestamp time.Time, merchantOrderID string, amount decimal.Decimal) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND merchant_timestamp = ? AND merchant_order_id = ? AND amount = ?",
			merchantID, merchantTimestamp, merchantOrderID, amount).
		First(&tx).Error
	if err != nil {
		return nil, translate(err)
	}
	return &tx, nil
}

func (r *TransactionRepository) Update(ctx context.Context, pspTransactionID string, expected models.TransactionStatus, change StatusChange) error {
	updates := map[string]interface{}{
		"status":         change.Status,
		"status_message": change.StatusMessage,
	}
	if change.ExternalTransactionID != "" {
		updates["external_transaction_id"] = change.ExternalTransactionID
	}
	if change.CompletedAt != nil {
		updates["completed_at"] = change.CompletedAt
	}
	if change.PaymentType != nil {
		updates["payment_type"] = *change.PaymentType
	}
	if change.PaymentData != nil {
		updates["payment_data"] = change.PaymentData
	}

	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("psp_transaction_id = ? AND status = ?", pspTransactionID, expected).
		Updates(updates)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByPSPID(ctx, pspTransactionID); err != nil {
			return err
		}
		return ErrConcurrentModification
	}
	return nil
}

func (r *TransactionRepository) ClaimRefund(ctx context.Context, pspTransactionID string, now, staleBefore time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("psp_transaction_id = ? AND status = ? AND (refund_claimed_at IS NULL OR refund_claimed_at < ?)",
			pspTransactionID, models.TransactionStatusCompleted, staleBefore).
		Update("refund_claimed_at", now)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByPSPID(ctx, pspTransactionID); err != nil {
			return err
		}
		return ErrConcurrentModification
	}
	return nil
}

func (r *TransactionRepository) ReleaseRefund(ctx context.Context, pspTransactionID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("psp_transaction_id = ?", pspTransactionID).
		Update("refund_claimed_at", gorm.Expr("NULL")).Error
	return translate(err)
}
