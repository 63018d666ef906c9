package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/ipsqr"
	"sep_psp/internal/ledger"
	"sep_psp/internal/models"
	"sep_psp/internal/plugins"
	"sep_psp/internal/store"
)

// PaymentService is the merchant facing facade over the ledger and the plugin registry
type PaymentService struct {
	ledger    *ledger.Ledger
	registry  *plugins.Registry
	merchants store.MerchantStore
	publicURL string
	now       func() time.Time
}

func NewPaymentService(l *ledger.Ledger, registry *plugins.Registry, merchants store.MerchantStore, publicURL string) *PaymentService {
	return &PaymentService{
		ledger:    l,
		registry:  registry,
		merchants: merchants,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// CreatePaymentResult is returned to the merchant after a payment was registered
type CreatePaymentResult struct {
	Transaction *models.Transaction
	// PaymentURL is where the buyer picks a payment method
	PaymentURL string
}

func (s *PaymentService) CreatePayment(ctx context.Context, req ledger.CreateRequest) (*CreatePaymentResult, error) {
	tx, err := s.ledger.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return &CreatePaymentResult{
		Transaction: tx,
		PaymentURL:  s.publicURL + "/api/payments/" + tx.PSPTransactionID + "/methods",
	}, nil
}

// GetAvailableMethods lists the methods the buyer may choose for a transaction
func (s *PaymentService) GetAvailableMethods(ctx context.Context, pspTransactionID string) ([]plugins.PaymentMethod, error) {
	tx, err := s.ledger.Get(ctx, pspTransactionID)
	if err != nil {
		return nil, err
	}
	return s.registry.GetAvailableMethods(ctx, tx.MerchantID)
}

// ProcessResult is the outcome of starting a payment with a method
type ProcessResult struct {
	Transaction *models.Transaction
	RedirectURL string
	Message     string
	Data        map[string]interface{}
}

// ProcessPayment runs the selected plugin for a Pending transaction. Processor and routing failures move
// the transaction to Failed so it never stays Pending because of an outage.
func (s *PaymentService) ProcessPayment(ctx context.Context, pspTransactionID, paymentType string, data map[string]interface{}) (*ProcessResult, error) {
	tx, err := s.ledger.Get(ctx, pspTransactionID)
	if err != nil {
		return nil, err
	}
	ok, err := s.registry.Validate(ctx, tx.MerchantID, paymentType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Validation("payment method %s is not available for this merchant", paymentType)
	}
	plugin, err := s.registry.Resolve(paymentType)
	if err != nil {
		return nil, err
	}
	merchant, err := s.merchants.FindByID(ctx, tx.MerchantID)
	if err != nil {
		return nil, apperror.NotFound("merchant not found")
	}
	if !merchant.IsActive() {
		return nil, apperror.Authentication("merchant is %s", strings.ToLower(string(merchant.Status)))
	}
	var config map[string]interface{}
	if grant, ok := plugins.Grant(merchant, paymentType); ok {
		config = plugins.ConfigMap(grant.PaymentType.Configuration)
	}

	tx, err = s.ledger.AssignPaymentMethod(ctx, tx.PSPTransactionID, paymentType)
	if err != nil {
		return nil, err
	}

	result, err := plugin.ProcessPayment(ctx, plugins.PaymentRequest{
		Transaction: tx,
		Merchant:    merchant,
		Data:        data,
		Config:      config,
		ReturnURL:   s.publicURL + "/api/callbacks/" + paymentType + "/return",
		NotifyURL:   s.notifyURL(paymentType),
	})
	if err != nil {
		return nil, s.failOn(ctx, tx, paymentType, err)
	}

	updated, err := s.ledger.UpdateStatus(ctx, tx.PSPTransactionID, ledger.Update{
		Status:                result.Status,
		StatusMessage:         result.Message,
		ExternalTransactionID: result.ExternalTransactionID,
		PaymentData:           result.Data,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("payment processed",
		"psp_transaction_id", tx.PSPTransactionID,
		"payment_type", paymentType,
		"status", updated.Transaction.Status)
	return &ProcessResult{
		Transaction: updated.Transaction,
		RedirectURL: result.RedirectURL,
		Message:     result.Message,
		Data:        result.Data,
	}, nil
}

// failOn records a downstream failure as Failed; request validation errors leave the transaction Pending
func (s *PaymentService) failOn(ctx context.Context, tx *models.Transaction, paymentType string, cause error) error {
	switch apperror.KindOf(cause) {
	case apperror.KindValidation, apperror.KindAuthentication, apperror.KindNotFound, apperror.KindConflict:
		return cause
	}

	slog.Warn("payment processing failed",
		"psp_transaction_id", tx.PSPTransactionID,
		"payment_type", paymentType,
		"error", cause)
	_, err := s.ledger.UpdateStatus(ctx, tx.PSPTransactionID, ledger.Update{
		Status:        models.TransactionStatusFailed,
		StatusMessage: apperror.MessageOf(cause),
	})
	if err != nil {
		slog.Error("failed to mark transaction failed", "psp_transaction_id", tx.PSPTransactionID, "error", err)
	}
	return cause
}

func (s *PaymentService) notifyURL(paymentType string) string {
	switch paymentType {
	case plugins.TypeBitcoin:
		return s.publicURL + "/api/webhooks/crypto"
	case plugins.TypeMidtrans:
		return s.publicURL + "/api/callbacks/midtrans/notification"
	}
	return s.publicURL + "/api/callbacks/" + paymentType
}

// GetStatus returns the transaction, first refreshing a non-terminal one from its processor.
// An expired payment that is still open is failed here; there is no background sweep.
func (s *PaymentService) GetStatus(ctx context.Context, identifier string) (*models.Transaction, error) {
	tx, err := s.ledger.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsSticky() || tx.PaymentType == nil {
		return tx, nil
	}
	plugin, err := s.registry.Resolve(*tx.PaymentType)
	if err != nil {
		return tx, nil
	}

	if expirable, ok := plugin.(plugins.Expirable); ok {
		expired, err := expirable.Expired(ctx, tx, s.now())
		if err != nil {
			slog.Warn("expiry check failed", "psp_transaction_id", tx.PSPTransactionID, "error", err)
		}
		if expired {
			result, err := s.ledger.UpdateStatus(ctx, tx.PSPTransactionID, ledger.Update{
				Status:        models.TransactionStatusFailed,
				StatusMessage: "payment expired",
			})
			if err != nil {
				return nil, err
			}
			return result.Transaction, nil
		}
	}

	status, err := plugin.GetStatus(ctx, tx)
	if err != nil {
		// the stored state is still a valid answer
		slog.Warn("status refresh failed", "psp_transaction_id", tx.PSPTransactionID, "error", err)
		return tx, nil
	}
	if status.Status == tx.Status {
		return tx, nil
	}
	result, err := s.ledger.UpdateStatus(ctx, tx.PSPTransactionID, ledger.Update{
		Status:                status.Status,
		StatusMessage:         status.Message,
		ExternalTransactionID: status.ExternalTransactionID,
	})
	if err != nil {
		return nil, err
	}
	return result.Transaction, nil
}

// Refund reverses a completed payment on behalf of the merchant that owns it.
// A zero amount refunds the full amount.
func (s *PaymentService) Refund(ctx context.Context, creds ledger.Credentials, pspTransactionID string, amount decimal.Decimal) (*ledger.RefundResult, error) {
	merchant, err := s.ledger.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	tx, err := s.ledger.Get(ctx, pspTransactionID)
	if err != nil {
		return nil, err
	}
	if tx.MerchantID != merchant.ID {
		return nil, apperror.NotFound("transaction %s not found", pspTransactionID)
	}
	return s.ledger.Refund(ctx, tx.PSPTransactionID, amount)
}

// QRValidation asks whether a QR payload pays a transaction, or an explicit amount and currency
type QRValidation struct {
	Payload          string
	PSPTransactionID string
	Amount           decimal.Decimal
	Currency         string
}

func (s *PaymentService) ValidateQR(ctx context.Context, req QRValidation) (*ipsqr.Result, error) {
	if strings.TrimSpace(req.Payload) == "" {
		return nil, apperror.Validation("qr payload is required")
	}
	amount, currency := req.Amount, req.Currency
	if req.PSPTransactionID != "" {
		tx, err := s.ledger.Get(ctx, req.PSPTransactionID)
		if err != nil {
			return nil, err
		}
		amount, currency = tx.Amount, tx.Currency
	}
	if !amount.IsPositive() || currency == "" {
		return nil, apperror.Validation("expected amount and currency are required")
	}
	return ipsqr.Validate(req.Payload, amount, currency)
}
