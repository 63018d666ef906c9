// Package memstore holds in-memory implementations of the store contracts for local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/models"
	"sep_psp/internal/store"
)

// TransactionStore keeps transactions in a map keyed by PSP transaction id
type TransactionStore struct {
	mu     sync.Mutex
	nextID uint
	byPSP  map[string]*models.Transaction
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{byPSP: make(map[string]*models.Transaction)}
}

func (s *TransactionStore) Insert(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPSP[tx.PSPTransactionID]; exists {
		return store.ErrDuplicate
	}
	if s.findDuplicate(tx.MerchantID, tx.MerchantTimestamp, tx.MerchantOrderID, tx.Amount) != nil {
		return store.ErrDuplicate
	}

	s.nextID++
	now := time.Now()
	tx.ID = s.nextID
	tx.CreatedAt = now
	tx.UpdatedAt = now
	stored := *tx
	s.byPSP[tx.PSPTransactionID] = &stored
	return nil
}

func (s *TransactionStore) FindByPSPID(_ context.Context, pspTransactionID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byPSP[pspTransactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *TransactionStore) FindByMerchantOrderID(_ context.Context, merchantOrderID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []models.Transaction
	for _, tx := range s.byPSP {
		if tx.MerchantOrderID == merchantOrderID {
			found = append(found, *tx)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID > found[j].ID })
	return found, nil
}

func (s *TransactionStore) FindDuplicate(_ context.Context, merchantID uint, merchantTimestamp time.Time, merchantOrderID string, amount decimal.Decimal) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.findDuplicate(merchantID, merchantTimestamp, merchantOrderID, amount)
	if tx == nil {
		return nil, store.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *TransactionStore) findDuplicate(merchantID uint, merchantTimestamp time.Time, merchantOrderID string, amount decimal.Decimal) *models.Transaction {
	for _, tx := range s.byPSP {
		if tx.MerchantID == merchantID &&
			tx.MerchantTimestamp.Equal(merchantTimestamp) &&
			tx.MerchantOrderID == merchantOrderID &&
			tx.Amount.Equal(amount) {
			return tx
		}
	}
	return nil
}

func (s *TransactionStore) Update(_ context.Context, pspTransactionID string, expected models.TransactionStatus, change store.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byPSP[pspTransactionID]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != expected {
		return store.ErrConcurrentModification
	}

	tx.Status = change.Status
	tx.StatusMessage = change.StatusMessage
	if change.ExternalTransactionID != "" {
		tx.ExternalTransactionID = change.ExternalTransactionID
	}
	if change.CompletedAt != nil {
		completedAt := *change.CompletedAt
		tx.CompletedAt = &completedAt
	}
	if change.PaymentType != nil {
		paymentType := *change.PaymentType
		tx.PaymentType = &paymentType
	}
	if change.PaymentData != nil {
		tx.PaymentData = change.PaymentData
	}
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *TransactionStore) ClaimRefund(_ context.Context, pspTransactionID string, now, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byPSP[pspTransactionID]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != models.TransactionStatusCompleted {
		return store.ErrConcurrentModification
	}
	if tx.RefundClaimedAt != nil && !tx.RefundClaimedAt.Before(staleBefore) {
		return store.ErrConcurrentModification
	}
	claimedAt := now
	tx.RefundClaimedAt = &claimedAt
	return nil
}

func (s *TransactionStore) ReleaseRefund(_ context.Context, pspTransactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byPSP[pspTransactionID]
	if !ok {
		return store.ErrNotFound
	}
	tx.RefundClaimedAt = nil
	return nil
}
