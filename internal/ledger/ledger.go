// Package ledger owns the transaction lifecycle: creation with the duplicate-submission guard,
// identifier lookup, the sticky status state machine and refunds.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"sep_psp/internal/apperror"
	"sep_psp/internal/metrics"
	"sep_psp/internal/models"
	"sep_psp/internal/plugins"
	"sep_psp/internal/store"
)

// maxUpdateAttempts bounds the compare-and-set loop of a status update
const maxUpdateAttempts = 5

// refundClaimTTL is how long an unfinished refund blocks others before it may be taken over
const refundClaimTTL = 10 * time.Minute

// Credentials authenticate a merchant
type Credentials struct {
	MerchantID     string
	MerchantSecret string
}

type CreateRequest struct {
	Credentials
	Amount            decimal.Decimal
	Currency          string
	MerchantOrderID   string
	MerchantTimestamp time.Time
	ReturnURL         string
	CancelURL         string
	CallbackURL       string
	CustomerName      string
	CustomerEmail     string
}

// Update is an incoming status report
type Update struct {
	Status                models.TransactionStatus
	StatusMessage         string
	ExternalTransactionID string
	PaymentData           map[string]interface{}
}

// UpdateResult reports what an update did. Transaction always reflects the stored state afterwards.
type UpdateResult struct {
	Transaction *models.Transaction
	Applied     bool
	Previous    models.TransactionStatus
}

// CompletionListener is told about every transition into Completed, after the write is committed
type CompletionListener interface {
	TransactionCompleted(ctx context.Context, tx *models.Transaction) error
}

// PluginResolver finds the plugin bound to a payment type
type PluginResolver interface {
	Resolve(paymentType string) (plugins.Plugin, error)
}

type Ledger struct {
	transactions store.TransactionStore
	merchants    store.MerchantStore
	plugins      PluginResolver
	listeners    []CompletionListener
	now          func() time.Time
	newID        func() string
}

func New(transactions store.TransactionStore, merchants store.MerchantStore, resolver PluginResolver, listeners ...CompletionListener) *Ledger {
	return &Ledger{
		transactions: transactions,
		merchants:    merchants,
		plugins:      resolver,
		listeners:    listeners,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// AddListener registers a completion listener; call before serving traffic
func (l *Ledger) AddListener(listener CompletionListener) {
	l.listeners = append(l.listeners, listener)
}

// Authenticate verifies merchant credentials and that the merchant is active
func (l *Ledger) Authenticate(ctx context.Context, creds Credentials) (*models.WebShopClient, error) {
	if creds.MerchantID == "" || creds.MerchantSecret == "" {
		return nil, apperror.Authentication("merchant credentials are required")
	}
	client, err := l.merchants.FindByMerchantID(ctx, creds.MerchantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.Authentication("invalid merchant credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}
	if !client.CheckSecret(creds.MerchantSecret) {
		return nil, apperror.Authentication("invalid merchant credentials")
	}
	if !client.IsActive() {
		return nil, apperror.Authentication("merchant is %s", strings.ToLower(string(client.Status)))
	}
	return client, nil
}

// Create records a new Pending transaction for an authenticated merchant
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (*models.Transaction, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	client, err := l.Authenticate(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}

	timestamp := req.MerchantTimestamp.UTC()
	if timestamp.IsZero() {
		timestamp = l.now().UTC()
	}
	amount := req.Amount.Round(2)
	orderID := strings.TrimSpace(req.MerchantOrderID)

	if _, err := l.transactions.FindDuplicate(ctx, client.ID, timestamp, orderID, amount); err == nil {
		return nil, apperror.Conflict("transaction for order %s was already submitted", orderID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}

	tx := &models.Transaction{
		PSPTransactionID:  l.newID(),
		MerchantID:        client.ID,
		MerchantTimestamp: timestamp,
		MerchantOrderID:   orderID,
		Amount:            amount,
		Currency:          strings.ToUpper(req.Currency),
		Status:            models.TransactionStatusPending,
		ReturnURL:         req.ReturnURL,
		CancelURL:         req.CancelURL,
		CallbackURL:       req.CallbackURL,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
	}
	if err := l.transactions.Insert(ctx, tx); err != nil {
		// the unique index catches a concurrent duplicate that passed the check above
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperror.Conflict("transaction for order %s was already submitted", orderID)
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created",
		"psp_transaction_id", tx.PSPTransactionID,
		"merchant_id", client.MerchantID,
		"merchant_order_id", orderID,
		"amount", amount.StringFixed(2),
		"currency", tx.Currency)
	return tx, nil
}

func validateCreate(req CreateRequest) error {
	switch {
	case !req.Amount.IsPositive():
		return apperror.Validation("amount must be positive")
	case len(strings.TrimSpace(req.Currency)) != 3:
		return apperror.Validation("currency must be a three letter code")
	case strings.TrimSpace(req.MerchantOrderID) == "":
		return apperror.Validation("merchant order id is required")
	}
	return nil
}

// Lookup resolves an identifier to a transaction. The pspTransactionId is tried first; the merchant order id
// is a fallback for callers that only know the merchant's own reference and must match exactly one transaction.
func (l *Ledger) Lookup(ctx context.Context, identifier string) (*models.Transaction, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperror.Validation("transaction identifier is required")
	}

	tx, err := l.transactions.FindByPSPID(ctx, strings.ToLower(identifier))
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	matches, err := l.transactions.FindByMerchantOrderID(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, apperror.NotFound("transaction %s not found", identifier)
	case 1:
		return &matches[0], nil
	default:
		return nil, apperror.Conflict("merchant order id %s matches %d transactions, use the psp transaction id", identifier, len(matches))
	}
}

// Get loads a transaction strictly by pspTransactionId
func (l *Ledger) Get(ctx context.Context, pspTransactionID string) (*models.Transaction, error) {
	tx, err := l.transactions.FindByPSPID(ctx, strings.ToLower(strings.TrimSpace(pspTransactionID)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("transaction %s not found", pspTransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return tx, nil
}

// canTransition reports whether a generic update may move a transaction from one status to another
func canTransition(from, to models.TransactionStatus) bool {
	switch from {
	case models.TransactionStatusPending:
		return to == models.TransactionStatusProcessing || to == models.TransactionStatusCompleted ||
			to == models.TransactionStatusFailed || to == models.TransactionStatusCancelled
	case models.TransactionStatusProcessing:
		return to == models.TransactionStatusCompleted || to == models.TransactionStatusFailed ||
			to == models.TransactionStatusCancelled
	}
	return false
}

// UpdateStatus applies a status report. Reports that would leave a sticky state or move a transaction
// backwards are no-ops returning the stored state, so duplicate and late deliveries are harmless.
func (l *Ledger) UpdateStatus(ctx context.Context, identifier string, update Update) (*UpdateResult, error) {
	if !update.Status.Valid() {
		return nil, apperror.Validation("unknown status %q", update.Status)
	}
	if update.Status == models.TransactionStatusRefunded {
		return nil, apperror.Validation("refunds must go through the refund operation")
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		tx, err := l.Lookup(ctx, identifier)
		if err != nil {
			return nil, err
		}
		current := tx.Status

		if current != update.Status && !canTransition(current, update.Status) {
			slog.Info("status update ignored",
				"psp_transaction_id", tx.PSPTransactionID,
				"current", current,
				"reported", update.Status)
			return &UpdateResult{Transaction: tx, Applied: false, Previous: current}, nil
		}
		if current == update.Status && (current.IsSticky() || !update.hasDetails(tx)) {
			return &UpdateResult{Transaction: tx, Applied: false, Previous: current}, nil
		}

		change, err := l.changeFor(tx, update)
		if err != nil {
			return nil, err
		}
		err = l.transactions.Update(ctx, tx.PSPTransactionID, current, change)
		if errors.Is(err, store.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update transaction: %w", err)
		}

		updated, err := l.Get(ctx, tx.PSPTransactionID)
		if err != nil {
			return nil, err
		}
		applied := current != update.Status
		if applied {
			metrics.StatusTransitions.WithLabelValues(string(current), string(update.Status)).Inc()
			slog.Info("transaction status updated",
				"psp_transaction_id", tx.PSPTransactionID,
				"from", current,
				"to", update.Status)
			if update.Status == models.TransactionStatusCompleted {
				l.notifyCompleted(ctx, updated)
			}
			if update.Status.IsSticky() {
				l.releaseExpiry(ctx, updated)
			}
		}
		return &UpdateResult{Transaction: updated, Applied: applied, Previous: current}, nil
	}
	return nil, apperror.Conflict("transaction is being updated concurrently, retry later")
}

// hasDetails reports whether a same-status update carries information not yet stored
func (u Update) hasDetails(tx *models.Transaction) bool {
	return (u.ExternalTransactionID != "" && u.ExternalTransactionID != tx.ExternalTransactionID) ||
		(u.StatusMessage != "" && u.StatusMessage != tx.StatusMessage) ||
		len(u.PaymentData) > 0
}

func (l *Ledger) changeFor(tx *models.Transaction, update Update) (store.StatusChange, error) {
	change := store.StatusChange{
		Status:                update.Status,
		StatusMessage:         update.StatusMessage,
		ExternalTransactionID: update.ExternalTransactionID,
	}
	if change.StatusMessage == "" {
		change.StatusMessage = tx.StatusMessage
	}
	if update.Status == models.TransactionStatusCompleted && tx.Status != models.TransactionStatusCompleted {
		now := l.now()
		change.CompletedAt = &now
	}
	if len(update.PaymentData) > 0 {
		data, err := mergeData(tx.PaymentData, update.PaymentData)
		if err != nil {
			return change, err
		}
		change.PaymentData = data
	}
	return change, nil
}

func mergeData(existing datatypes.JSON, extra map[string]interface{}) (datatypes.JSON, error) {
	merged := plugins.ConfigMap(existing)
	for k, v := range extra {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment data: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func (l *Ledger) notifyCompleted(ctx context.Context, tx *models.Transaction) {
	for _, listener := range l.listeners {
		if err := listener.TransactionCompleted(ctx, tx); err != nil {
			slog.Error("completion listener failed", "psp_transaction_id", tx.PSPTransactionID, "error", err)
		}
	}
}

// releaseExpiry drops the advisory expiry of a payment that reached a final state
func (l *Ledger) releaseExpiry(ctx context.Context, tx *models.Transaction) {
	if tx.PaymentType == nil {
		return
	}
	plugin, err := l.plugins.Resolve(*tx.PaymentType)
	if err != nil {
		return
	}
	if expirable, ok := plugin.(plugins.Expirable); ok {
		if err := expirable.Release(ctx, tx); err != nil {
			slog.Warn("failed to release payment expiry", "psp_transaction_id", tx.PSPTransactionID, "error", err)
		}
	}
}

// AssignPaymentMethod binds a payment type to a Pending transaction before the plugin is invoked
func (l *Ledger) AssignPaymentMethod(ctx context.Context, pspTransactionID, paymentType string) (*models.Transaction, error) {
	tx, err := l.Get(ctx, pspTransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionStatusPending {
		return nil, apperror.Conflict("transaction is %s and cannot be processed again", strings.ToLower(string(tx.Status)))
	}

	err = l.transactions.Update(ctx, tx.PSPTransactionID, models.TransactionStatusPending, store.StatusChange{
		Status:        models.TransactionStatusPending,
		StatusMessage: "payment method selected",
		PaymentType:   &paymentType,
	})
	if errors.Is(err, store.ErrConcurrentModification) {
		return nil, apperror.Conflict("transaction changed while selecting the payment method")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign payment method: %w", err)
	}
	return l.Get(ctx, tx.PSPTransactionID)
}

// RefundResult is the outcome of Refund
type RefundResult struct {
	Transaction *models.Transaction
	RefundID    string
	Message     string
}

// Refund reverses a Completed transaction through its plugin and moves it to Refunded
func (l *Ledger) Refund(ctx context.Context, pspTransactionID string, amount decimal.Decimal) (*RefundResult, error) {
	tx, err := l.Get(ctx, pspTransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionStatusCompleted {
		return nil, apperror.Validation("only completed transactions can be refunded, transaction is %s", tx.Status)
	}
	if amount.IsZero() {
		amount = tx.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(tx.Amount) {
		return nil, apperror.Validation("refund amount must be positive and at most %s", tx.Amount.StringFixed(2))
	}
	if tx.PaymentType == nil {
		return nil, apperror.Validation("transaction has no payment method")
	}
	plugin, err := l.plugins.Resolve(*tx.PaymentType)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if err := l.transactions.ClaimRefund(ctx, tx.PSPTransactionID, now, now.Add(-refundClaimTTL)); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			return nil, apperror.Conflict("transaction %s is already being refunded", tx.PSPTransactionID)
		}
		return nil, fmt.Errorf("failed to claim refund: %w", err)
	}

	result, err := plugin.Refund(ctx, tx, amount)
	if err == nil && !result.Success {
		err = apperror.ExternalService(nil, "refund rejected: %s", result.Message)
	}
	if err != nil {
		if releaseErr := l.transactions.ReleaseRefund(ctx, tx.PSPTransactionID); releaseErr != nil {
			slog.Error("failed to release refund claim", "psp_transaction_id", tx.PSPTransactionID, "error", releaseErr)
		}
		return nil, err
	}

	message := fmt.Sprintf("refunded %s %s", amount.StringFixed(2), tx.Currency)
	err = l.transactions.Update(ctx, tx.PSPTransactionID, models.TransactionStatusCompleted, store.StatusChange{
		Status:        models.TransactionStatusRefunded,
		StatusMessage: message,
	})
	if errors.Is(err, store.ErrConcurrentModification) {
		slog.Error("refund settled but transaction moved on", "psp_transaction_id", tx.PSPTransactionID, "refund_id", result.RefundID)
		return nil, apperror.Conflict("transaction %s changed while being refunded", tx.PSPTransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	updated, err := l.Get(ctx, tx.PSPTransactionID)
	if err != nil {
		return nil, err
	}
	slog.Info("transaction refunded", "psp_transaction_id", tx.PSPTransactionID, "amount", amount.StringFixed(2), "refund_id", result.RefundID)
	return &RefundResult{Transaction: updated, RefundID: result.RefundID, Message: message}, nil
}
