package memstore

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"sep_psp/internal/models"
	"sep_psp/internal/store"
)

// AccountStore keeps bank accounts and cards; balance writes are versioned like the gorm repository
type AccountStore struct {
	mu       sync.Mutex
	accounts map[uint]*models.BankAccount
	cards    map[string]models.Card

	// BeforeWrite, when set, runs inside every balance write before the version check
	BeforeWrite func(account *models.BankAccount)
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[uint]*models.BankAccount),
		cards:    make(map[string]models.Card),
	}
}

// AddAccount stores an account and its cards
func (s *AccountStore) AddAccount(account models.BankAccount) *models.BankAccount {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == 0 {
		account.ID = uint(len(s.accounts) + 1)
	}
	for _, card := range account.Cards {
		card.AccountID = account.ID
		s.cards[card.PAN] = card
	}
	account.Cards = nil
	stored := account
	s.accounts[account.ID] = &stored
	copied := stored
	return &copied
}

// Balance returns the current balance of an account
func (s *AccountStore) Balance(id uint) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		return account.Balance
	}
	return decimal.Zero
}

func (s *AccountStore) GetByCard(_ context.Context, pan string) (*models.BankAccount, *models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[pan]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	account, ok := s.accounts[card.AccountID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	copied := *account
	return &copied, &card, nil
}

func (s *AccountStore) GetByMerchant(_ context.Context, merchantID string) (*models.BankAccount, error) {
	return s.find(func(a *models.BankAccount) bool {
		return a.MerchantID != nil && *a.MerchantID == merchantID
	})
}

func (s *AccountStore) GetByAccountNumber(_ context.Context, accountNumber string) (*models.BankAccount, error) {
	return s.find(func(a *models.BankAccount) bool { return a.AccountNumber == accountNumber })
}

func (s *AccountStore) GetByID(_ context.Context, id uint) (*models.BankAccount, error) {
	return s.find(func(a *models.BankAccount) bool { return a.ID == id })
}

func (s *AccountStore) find(match func(*models.BankAccount) bool) (*models.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if match(account) {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *AccountStore) Debit(_ context.Context, account *models.BankAccount, amount decimal.Decimal) error {
	return s.write(account, account.Balance.Sub(amount))
}

func (s *AccountStore) Credit(_ context.Context, account *models.BankAccount, amount decimal.Decimal) error {
	return s.write(account, account.Balance.Add(amount))
}

func (s *AccountStore) write(account *models.BankAccount, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[account.ID]
	if !ok {
		return store.ErrNotFound
	}
	if s.BeforeWrite != nil {
		s.BeforeWrite(stored)
	}
	if stored.Version != account.Version {
		return store.ErrConcurrentModification
	}
	stored.Balance = balance
	stored.Version++
	account.Balance = balance
	account.Version = stored.Version
	return nil
}

// BankPaymentStore keeps bank payment records
type BankPaymentStore struct {
	mu       sync.Mutex
	nextID   uint
	payments map[uint]*models.BankPayment
}

func NewBankPaymentStore() *BankPaymentStore {
	return &BankPaymentStore{payments: make(map[uint]*models.BankPayment)}
}

func (s *BankPaymentStore) Create(_ context.Context, payment *models.BankPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.BankID == payment.BankID && p.Role == payment.Role && p.AcquirerOrderID == payment.AcquirerOrderID {
			return store.ErrDuplicate
		}
	}
	s.nextID++
	payment.ID = s.nextID
	stored := *payment
	s.payments[payment.ID] = &stored
	return nil
}

func (s *BankPaymentStore) FindByAcquirerOrder(_ context.Context, bankID string, role models.BankPaymentRole, acquirerOrderID string) (*models.BankPayment, error) {
	return s.find(func(p *models.BankPayment) bool {
		return p.BankID == bankID && p.Role == role && p.AcquirerOrderID == acquirerOrderID
	})
}

func (s *BankPaymentStore) FindByIssuerOrder(_ context.Context, bankID string, issuerOrderID string) (*models.BankPayment, error) {
	return s.find(func(p *models.BankPayment) bool {
		return p.BankID == bankID && p.IssuerOrderID == issuerOrderID
	})
}

func (s *BankPaymentStore) FindOpen(_ context.Context, bankID string, route models.BankPaymentRoute, merchantOrderID string) (*models.BankPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.BankPayment
	for _, p := range s.payments {
		if p.BankID != bankID || p.Role != models.BankPaymentRoleAcquirer || p.Route != route ||
			p.MerchantOrderID != merchantOrderID || p.Status != models.BankPaymentStatusProcessing {
			continue
		}
		if latest == nil || p.ID > latest.ID {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *BankPaymentStore) find(match func(*models.BankPayment) bool) (*models.BankPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if match(p) {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *BankPaymentStore) Save(_ context.Context, payment *models.BankPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[payment.ID]; !ok {
		return store.ErrNotFound
	}
	stored := *payment
	s.payments[payment.ID] = &stored
	return nil
}

func (s *BankPaymentStore) Transition(_ context.Context, id uint, from, to models.BankPaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.payments[id]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Status != from {
		return store.ErrConcurrentModification
	}
	stored.Status = to
	return nil
}
