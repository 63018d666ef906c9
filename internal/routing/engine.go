// Package routing settles card and QR payments at a bank: same-bank debits, forwarding to the card network,
// issuer authorization and refunds.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/metrics"
	"sep_psp/internal/models"
	"sep_psp/internal/store"
)

// DefaultDebitAttempts bounds the optimistic retry of a balance write
const DefaultDebitAttempts = 3

type Config struct {
	BankID        string
	BINPrefixes   []string
	DebitAttempts int
}

// NetworkClient forwards cross-bank requests to the card network
type NetworkClient interface {
	Authorize(ctx context.Context, req bankapi.NetworkRequest) (*bankapi.NetworkResponse, error)
	Refund(ctx context.Context, req bankapi.NetworkRefundRequest) (*bankapi.PaymentResult, error)
}

// Result is the uniform outcome of a settlement
type Result struct {
	Success       bool
	TransactionID string
	Message       string
	Status        string
	Payment       *models.BankPayment
}

// API renders the result for the wire
func (r Result) API() bankapi.PaymentResult {
	return bankapi.PaymentResult{Success: r.Success, TransactionID: r.TransactionID, Message: r.Message, Status: r.Status}
}

// Engine routes payments for one bank
type Engine struct {
	cfg      Config
	accounts store.AccountStore
	payments store.BankPaymentStore
	network  NetworkClient
	now      func() time.Time
}

func NewEngine(cfg Config, accounts store.AccountStore, payments store.BankPaymentStore, network NetworkClient) *Engine {
	if cfg.DebitAttempts <= 0 {
		cfg.DebitAttempts = DefaultDebitAttempts
	}
	return &Engine{
		cfg:      cfg,
		accounts: accounts,
		payments: payments,
		network:  network,
		now:      time.Now,
	}
}

// BankID returns the id of the bank this engine settles for
func (e *Engine) BankID() string {
	return e.cfg.BankID
}

// ownsCard reports whether the PAN was issued by this bank
func (e *Engine) ownsCard(ctx context.Context, pan string) bool {
	for _, prefix := range e.cfg.BINPrefixes {
		if strings.HasPrefix(pan, prefix) {
			return true
		}
	}
	if len(e.cfg.BINPrefixes) > 0 {
		return false
	}
	_, _, err := e.accounts.GetByCard(ctx, pan)
	return err == nil
}

// ProcessCardPayment settles a card payment on behalf of a merchant of this bank.
// Repeated requests for the same PSP transaction return the recorded outcome without a second debit.
func (e *Engine) ProcessCardPayment(ctx context.Context, req bankapi.CardPaymentRequest) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be positive")
	}
	if req.PSPTransactionID == "" {
		return nil, apperror.Validation("psp_transaction_id is required")
	}
	merchantAccount, err := e.accounts.GetByMerchant(ctx, req.MerchantID)
	if err != nil {
		return nil, apperror.NotFound("merchant %s has no account at this bank", req.MerchantID)
	}

	payment := &models.BankPayment{
		BankID:            e.cfg.BankID,
		Role:              models.BankPaymentRoleAcquirer,
		AcquirerOrderID:   bankapi.AcquirerOrderID(req.PSPTransactionID),
		AcquirerTimestamp: e.now(),
		PSPTransactionID:  req.PSPTransactionID,
		MerchantOrderID:   req.MerchantOrderID,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(req.Currency),
		Status:            models.BankPaymentStatusProcessing,
	}
	payment.MerchantAccountID = &merchantAccount.ID
	if existing, err := e.reserve(ctx, payment); existing != nil || err != nil {
		return existing, err
	}

	card := CardCredentials{
		PAN:          req.PAN,
		SecurityCode: req.SecurityCode,
		HolderName:   req.HolderName,
		ExpiryMonth:  req.ExpiryMonth,
		ExpiryYear:   req.ExpiryYear,
	}
	if e.ownsCard(ctx, req.PAN) {
		payment.Route = models.BankPaymentRouteInternal
		err = e.settleInternal(ctx, payment, card)
	} else {
		payment.Route = models.BankPaymentRouteNetwork
		err = e.settleNetwork(ctx, payment, card)
	}
	if err != nil {
		return nil, e.fail(ctx, payment, bankapi.StatusError, err)
	}

	if payment.Status == models.BankPaymentStatusCompleted {
		if err := e.credit(ctx, merchantAccount, payment.Amount); err != nil {
			e.compensate(ctx, payment)
			return nil, e.fail(ctx, payment, bankapi.StatusError, err)
		}
	}
	if err := e.payments.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save bank payment: %w", err)
	}

	metrics.RoutingDecisions.WithLabelValues(string(payment.Route), string(payment.Status)).Inc()
	slog.Info("card payment settled",
		"bank_id", e.cfg.BankID,
		"acquirer_order_id", payment.AcquirerOrderID,
		"route", payment.Route,
		"status", payment.Status)
	return resultOf(payment), nil
}

// reserve creates the processing record, or returns the outcome of an earlier request for the same order
func (e *Engine) reserve(ctx context.Context, payment *models.BankPayment) (*Result, error) {
	err := e.payments.Create(ctx, payment)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	existing, err := e.payments.FindByAcquirerOrder(ctx, payment.BankID, payment.Role, payment.AcquirerOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	slog.Info("replaying recorded payment", "acquirer_order_id", existing.AcquirerOrderID, "status", existing.Status)
	return resultOf(existing), nil
}

func (e *Engine) settleInternal(ctx context.Context, payment *models.BankPayment, card CardCredentials) error {
	account, err := e.Charge(ctx, card, payment.Amount, payment.Currency)
	if err != nil {
		if _, declined := declineStatus(err); !declined {
			return err
		}
		payment.Status = models.BankPaymentStatusFailed
		payment.StatusMessage = apperror.MessageOf(err)
		return nil
	}

	now := e.now()
	payment.AccountID = &account.ID
	payment.IssuerBankID = e.cfg.BankID
	payment.IssuerOrderID = payment.AcquirerOrderID
	payment.IssuerTimestamp = &now
	payment.Status = models.BankPaymentStatusCompleted
	payment.StatusMessage = "approved"
	return nil
}

func (e *Engine) settleNetwork(ctx context.Context, payment *models.BankPayment, card CardCredentials) error {
	if e.network == nil {
		return apperror.ExternalService(nil, "card network is not configured")
	}
	resp, err := e.network.Authorize(ctx, bankapi.NetworkRequest{
		PAN:               card.PAN,
		SecurityCode:      card.SecurityCode,
		HolderName:        card.HolderName,
		ExpiryMonth:       card.ExpiryMonth,
		ExpiryYear:        card.ExpiryYear,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		AcquirerOrderID:   payment.AcquirerOrderID,
		AcquirerTimestamp: payment.AcquirerTimestamp,
		AcquirerBankID:    e.cfg.BankID,
	})
	if err != nil {
		return err
	}

	payment.IssuerOrderID = resp.IssuerOrderID
	payment.IssuerBankID = resp.IssuerBankID
	if !resp.IssuerTimestamp.IsZero() {
		ts := resp.IssuerTimestamp
		payment.IssuerTimestamp = &ts
	}
	payment.StatusMessage = resp.StatusMessage
	if resp.Success {
		payment.Status = models.BankPaymentStatusCompleted
	} else {
		payment.Status = models.BankPaymentStatusFailed
	}
	return nil
}

// compensate reverses the buyer side of a payment whose merchant credit failed
func (e *Engine) compensate(ctx context.Context, payment *models.BankPayment) {
	var err error
	switch payment.Route {
	case models.BankPaymentRouteNetwork:
		_, err = e.network.Refund(ctx, bankapi.NetworkRefundRequest{
			IssuerBankID:  payment.IssuerBankID,
			IssuerOrderID: payment.IssuerOrderID,
			Amount:        payment.Amount,
		})
	default:
		err = e.creditAccount(ctx, payment.AccountID, payment.Amount)
	}
	if err != nil {
		slog.Error("failed to reverse buyer debit", "acquirer_order_id", payment.AcquirerOrderID, "error", err)
	}
}

// fail records a failed settlement and returns cause for the caller
func (e *Engine) fail(ctx context.Context, payment *models.BankPayment, status string, cause error) error {
	payment.Status = models.BankPaymentStatusFailed
	payment.StatusMessage = status + ": " + apperror.MessageOf(cause)
	if err := e.payments.Save(ctx, payment); err != nil {
		slog.Error("failed to record failed payment", "acquirer_order_id", payment.AcquirerOrderID, "error", err)
	}
	slog.Warn("payment settlement failed", "acquirer_order_id", payment.AcquirerOrderID, "route", payment.Route, "error", cause)
	return cause
}

// CardCredentials identify and authenticate a card at its issuer
type CardCredentials struct {
	PAN          string
	SecurityCode string
	HolderName   string
	ExpiryMonth  int
	ExpiryYear   int
}

// Charge verifies a card issued by this bank and debits its account.
// The same primitive serves direct merchant payments and authorizations forwarded by the card network.
// Declines are returned as Validation or InsufficientFunds errors.
func (e *Engine) Charge(ctx context.Context, card CardCredentials, amount decimal.Decimal, currency string) (*models.BankAccount, error) {
	account, stored, err := e.accounts.GetByCard(ctx, card.PAN)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.Validation("card not recognised")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}

	switch {
	case !strings.EqualFold(strings.TrimSpace(stored.HolderName), strings.TrimSpace(card.HolderName)):
		return nil, apperror.Validation("card holder mismatch")
	case stored.ExpiryMonth != card.ExpiryMonth || stored.ExpiryYear != card.ExpiryYear:
		return nil, apperror.Validation("card expiry mismatch")
	case stored.Expired(e.now()):
		return nil, apperror.Validation("card has expired")
	case !stored.CheckSecurityCode(card.SecurityCode):
		return nil, apperror.Validation("invalid security code")
	case !strings.EqualFold(account.Currency, currency):
		return nil, apperror.Validation("currency %s is not supported for this card", currency)
	}

	if err := e.debit(ctx, account, amount); err != nil {
		return nil, err
	}
	return account, nil
}

// debit withdraws amount, re-reading the account and re-checking funds after each concurrent write
func (e *Engine) debit(ctx context.Context, account *models.BankAccount, amount decimal.Decimal) error {
	return e.retryWrite(ctx, account, func(current *models.BankAccount) error {
		if current.Balance.LessThan(amount) {
			return apperror.InsufficientFunds("Insufficient funds")
		}
		return e.accounts.Debit(ctx, current, amount)
	})
}

func (e *Engine) credit(ctx context.Context, account *models.BankAccount, amount decimal.Decimal) error {
	return e.retryWrite(ctx, account, func(current *models.BankAccount) error {
		return e.accounts.Credit(ctx, current, amount)
	})
}

func (e *Engine) creditAccount(ctx context.Context, accountID *uint, amount decimal.Decimal) error {
	if accountID == nil {
		return apperror.Validation("payment has no debited account")
	}
	account, err := e.accounts.GetByID(ctx, *accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	return e.credit(ctx, account, amount)
}

func (e *Engine) retryWrite(ctx context.Context, account *models.BankAccount, write func(*models.BankAccount) error) error {
	for attempt := 1; ; attempt++ {
		err := write(account)
		if !errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
		if attempt >= e.cfg.DebitAttempts {
			slog.Warn("balance update retries exhausted", "account_id", account.ID, "attempts", attempt)
			return apperror.ExternalService(err, "account is busy, please retry")
		}
		fresh, err := e.accounts.GetByID(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("failed to reload account: %w", err)
		}
		*account = *fresh
	}
}

// declineStatus maps a business decline to its wire status
func declineStatus(err error) (string, bool) {
	switch apperror.KindOf(err) {
	case apperror.KindInsufficientFunds:
		return bankapi.StatusInsufficientFunds, true
	case apperror.KindValidation:
		return bankapi.StatusDeclined, true
	}
	return "", false
}

func resultOf(p *models.BankPayment) *Result {
	r := &Result{TransactionID: p.AcquirerOrderID, Message: p.StatusMessage, Payment: p}
	switch p.Status {
	case models.BankPaymentStatusCompleted:
		r.Success = true
		r.Status = bankapi.StatusApproved
	case models.BankPaymentStatusRefunded:
		r.Success = true
		r.Status = bankapi.StatusRefunded
	case models.BankPaymentStatusRefunding:
		r.Success = true
		r.Status = bankapi.StatusApproved
	case models.BankPaymentStatusProcessing, models.BankPaymentStatusSettling:
		r.Status = bankapi.StatusInProgress
	default:
		r.Status = failureStatus(p.StatusMessage)
	}
	return r
}

func failureStatus(message string) string {
	if strings.EqualFold(message, "Insufficient funds") {
		return bankapi.StatusInsufficientFunds
	}
	return bankapi.StatusDeclined
}

// PaymentStatus returns the acquirer record for an order
func (e *Engine) PaymentStatus(ctx context.Context, acquirerOrderID string) (*Result, error) {
	payment, err := e.payments.FindByAcquirerOrder(ctx, e.cfg.BankID, models.BankPaymentRoleAcquirer, acquirerOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("payment %s not found", acquirerOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return resultOf(payment), nil
}

// Authorize is the issuer side of a network payment
func (e *Engine) Authorize(ctx context.Context, req bankapi.NetworkRequest) (*bankapi.NetworkResponse, error) {
	payment := &models.BankPayment{
		BankID:            e.cfg.BankID,
		Role:              models.BankPaymentRoleIssuer,
		AcquirerOrderID:   req.AcquirerOrderID,
		AcquirerTimestamp: req.AcquirerTimestamp,
		IssuerOrderID:     uuid.NewString(),
		IssuerBankID:      e.cfg.BankID,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(req.Currency),
		Route:             models.BankPaymentRouteNetwork,
		Status:            models.BankPaymentStatusProcessing,
	}
	now := e.now()
	payment.IssuerTimestamp = &now

	if err := e.payments.Create(ctx, payment); err != nil {
		existing, findErr := e.payments.FindByAcquirerOrder(ctx, e.cfg.BankID, models.BankPaymentRoleIssuer, req.AcquirerOrderID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to record authorization: %w", err)
		}
		return networkResponseOf(existing), nil
	}

	account, err := e.Charge(ctx, CardCredentials{
		PAN:          req.PAN,
		SecurityCode: req.SecurityCode,
		HolderName:   req.HolderName,
		ExpiryMonth:  req.ExpiryMonth,
		ExpiryYear:   req.ExpiryYear,
	}, req.Amount, req.Currency)
	if err != nil {
		if _, declined := declineStatus(err); !declined {
			return nil, e.fail(ctx, payment, bankapi.StatusError, err)
		}
		payment.Status = models.BankPaymentStatusFailed
		payment.StatusMessage = apperror.MessageOf(err)
	} else {
		payment.AccountID = &account.ID
		payment.Status = models.BankPaymentStatusCompleted
		payment.StatusMessage = "approved"
	}
	if err := e.payments.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save authorization: %w", err)
	}

	slog.Info("issuer authorization",
		"bank_id", e.cfg.BankID,
		"acquirer_bank_id", req.AcquirerBankID,
		"acquirer_order_id", req.AcquirerOrderID,
		"status", payment.Status)
	return networkResponseOf(payment), nil
}

func networkResponseOf(p *models.BankPayment) *bankapi.NetworkResponse {
	resp := &bankapi.NetworkResponse{
		IssuerOrderID: p.IssuerOrderID,
		IssuerBankID:  p.IssuerBankID,
		StatusMessage: p.StatusMessage,
	}
	if p.IssuerTimestamp != nil {
		resp.IssuerTimestamp = *p.IssuerTimestamp
	}
	r := resultOf(p)
	resp.Success = r.Success
	resp.Status = r.Status
	return resp
}

// Refund reverses an acquirer payment, crediting the buyer back and debiting the merchant
func (e *Engine) Refund(ctx context.Context, acquirerOrderID string, amount decimal.Decimal) (*Result, error) {
	payment, err := e.payments.FindByAcquirerOrder(ctx, e.cfg.BankID, models.BankPaymentRoleAcquirer, acquirerOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("payment %s not found", acquirerOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment.Status == models.BankPaymentStatusRefunded {
		return resultOf(payment), nil
	}
	if payment.Status == models.BankPaymentStatusRefunding {
		return nil, apperror.Conflict("payment is being refunded by another request")
	}
	if payment.Status != models.BankPaymentStatusCompleted {
		return nil, apperror.Validation("only completed payments can be refunded")
	}
	if !amount.IsPositive() || amount.GreaterThan(payment.Amount) {
		return nil, apperror.Validation("refund amount must be positive and at most %s", payment.Amount.StringFixed(2))
	}

	merchantAccount, err := e.merchantAccountFor(ctx, payment)
	if err != nil {
		return nil, err
	}
	if err := e.claim(ctx, payment, models.BankPaymentStatusCompleted, models.BankPaymentStatusRefunding); err != nil {
		return e.claimLost(err, func() (*models.BankPayment, error) {
			return e.payments.FindByAcquirerOrder(ctx, e.cfg.BankID, models.BankPaymentRoleAcquirer, acquirerOrderID)
		})
	}
	if err := e.debit(ctx, merchantAccount, amount); err != nil {
		e.release(ctx, payment, models.BankPaymentStatusCompleted)
		return nil, err
	}

	if payment.Route == models.BankPaymentRouteNetwork {
		resp, err := e.network.Refund(ctx, bankapi.NetworkRefundRequest{
			IssuerBankID:  payment.IssuerBankID,
			IssuerOrderID: payment.IssuerOrderID,
			Amount:        amount,
		})
		if err == nil && !resp.Success {
			err = apperror.ExternalService(nil, "issuer rejected refund: %s", resp.Message)
		}
		if err != nil {
			e.restoreMerchant(ctx, payment, merchantAccount, amount)
			return nil, err
		}
	} else if err := e.creditAccount(ctx, payment.AccountID, amount); err != nil {
		e.restoreMerchant(ctx, payment, merchantAccount, amount)
		return nil, err
	}

	payment.Status = models.BankPaymentStatusRefunded
	payment.StatusMessage = fmt.Sprintf("refunded %s %s", amount.StringFixed(2), payment.Currency)
	if err := e.payments.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save refund: %w", err)
	}
	slog.Info("payment refunded", "acquirer_order_id", acquirerOrderID, "amount", amount.StringFixed(2))
	return resultOf(payment), nil
}

// restoreMerchant gives back the merchant debit of a refund that could not reach the buyer
func (e *Engine) restoreMerchant(ctx context.Context, payment *models.BankPayment, merchantAccount *models.BankAccount, amount decimal.Decimal) {
	if err := e.credit(ctx, merchantAccount, amount); err != nil {
		slog.Error("failed to restore merchant balance", "acquirer_order_id", payment.AcquirerOrderID, "error", err)
	}
	e.release(ctx, payment, models.BankPaymentStatusCompleted)
}

// claim moves payment into a working status so no concurrent request moves its balances as well
func (e *Engine) claim(ctx context.Context, payment *models.BankPayment, from, to models.BankPaymentStatus) error {
	if err := e.payments.Transition(ctx, payment.ID, from, to); err != nil {
		return err
	}
	payment.Status = to
	return nil
}

// release hands a claimed payment back in status to
func (e *Engine) release(ctx context.Context, payment *models.BankPayment, to models.BankPaymentStatus) {
	if err := e.payments.Transition(ctx, payment.ID, payment.Status, to); err != nil {
		slog.Error("failed to release payment", "acquirer_order_id", payment.AcquirerOrderID, "status", to, "error", err)
		return
	}
	payment.Status = to
}

// claimLost answers a refund that lost its claim: a finished refund is replayed, one in flight is a conflict
func (e *Engine) claimLost(err error, current func() (*models.BankPayment, error)) (*Result, error) {
	if !errors.Is(err, store.ErrConcurrentModification) {
		return nil, fmt.Errorf("failed to claim payment: %w", err)
	}
	payment, findErr := current()
	if findErr == nil && payment.Status == models.BankPaymentStatusRefunded {
		return resultOf(payment), nil
	}
	return nil, apperror.Conflict("payment is being refunded by another request")
}

func (e *Engine) merchantAccountFor(ctx context.Context, payment *models.BankPayment) (*models.BankAccount, error) {
	if payment.MerchantAccountID == nil {
		return nil, apperror.Validation("payment has no merchant account")
	}
	account, err := e.accounts.GetByID(ctx, *payment.MerchantAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant account: %w", err)
	}
	return account, nil
}

// IssuerRefund credits the cardholder back for a network payment this bank authorized
func (e *Engine) IssuerRefund(ctx context.Context, req bankapi.NetworkRefundRequest) (*Result, error) {
	payment, err := e.payments.FindByIssuerOrder(ctx, e.cfg.BankID, req.IssuerOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("authorization %s not found", req.IssuerOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load authorization: %w", err)
	}
	if payment.Status == models.BankPaymentStatusRefunded {
		return resultOf(payment), nil
	}
	if payment.Status == models.BankPaymentStatusRefunding {
		return nil, apperror.Conflict("authorization is being refunded by another request")
	}
	if payment.Status != models.BankPaymentStatusCompleted {
		return nil, apperror.Validation("only approved authorizations can be refunded")
	}
	if !req.Amount.IsPositive() || req.Amount.GreaterThan(payment.Amount) {
		return nil, apperror.Validation("invalid refund amount")
	}
	if err := e.claim(ctx, payment, models.BankPaymentStatusCompleted, models.BankPaymentStatusRefunding); err != nil {
		r, err := e.claimLost(err, func() (*models.BankPayment, error) {
			return e.payments.FindByIssuerOrder(ctx, e.cfg.BankID, req.IssuerOrderID)
		})
		if err != nil {
			return nil, err
		}
		r.TransactionID = req.IssuerOrderID
		return r, nil
	}
	if err := e.creditAccount(ctx, payment.AccountID, req.Amount); err != nil {
		e.release(ctx, payment, models.BankPaymentStatusCompleted)
		return nil, err
	}

	payment.Status = models.BankPaymentStatusRefunded
	payment.StatusMessage = fmt.Sprintf("refunded %s %s", req.Amount.StringFixed(2), payment.Currency)
	if err := e.payments.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save refund: %w", err)
	}
	r := resultOf(payment)
	r.TransactionID = payment.IssuerOrderID
	return r, nil
}
