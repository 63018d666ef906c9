package plugins

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/models"
	"sep_psp/internal/statuscodec"
)

const (
	cryptoService = "crypto"

	// DefaultInvoiceExpiry is the advisory lifetime of a crypto invoice
	DefaultInvoiceExpiry = 30 * time.Minute
)

// ExpiryTracker records the advisory expiry of externally created payments, keyed by pspTransactionId.
// Implementations must be safe for concurrent use.
type ExpiryTracker interface {
	Track(ctx context.Context, pspTransactionID string, expiresAt time.Time) error
	ExpiresAt(ctx context.Context, pspTransactionID string) (time.Time, bool, error)
	Forget(ctx context.Context, pspTransactionID string) error
}

// Expirable is implemented by plugins whose payments lapse when not completed in time.
// Release is called once a payment reaches a final state and can no longer lapse.
type Expirable interface {
	Expired(ctx context.Context, tx *models.Transaction, now time.Time) (bool, error)
	Release(ctx context.Context, tx *models.Transaction) error
}

// BitcoinPlugin creates invoices at a crypto payment processor
type BitcoinPlugin struct {
	resolver discovery.Resolver
	http     *httpclient.Client
	apiKey   string
	expiry   time.Duration
	tracker  ExpiryTracker
	now      func() time.Time
}

func NewBitcoinPlugin(resolver discovery.Resolver, client *httpclient.Client, apiKey string, expiry time.Duration, tracker ExpiryTracker) *BitcoinPlugin {
	if expiry <= 0 {
		expiry = DefaultInvoiceExpiry
	}
	return &BitcoinPlugin{
		resolver: resolver,
		http:     client,
		apiKey:   apiKey,
		expiry:   expiry,
		tracker:  tracker,
		now:      time.Now,
	}
}

func (p *BitcoinPlugin) Name() string    { return "Bitcoin" }
func (p *BitcoinPlugin) Type() string    { return TypeBitcoin }
func (p *BitcoinPlugin) IsEnabled() bool { return p.apiKey != "" }

// cryptoInvoice is the processor's order document
type cryptoInvoice struct {
	ID            flexibleID `json:"id"`
	OrderID       string     `json:"order_id"`
	Status        string     `json:"status"`
	PriceAmount   string     `json:"price_amount"`
	PriceCurrency string     `json:"price_currency"`
	PaymentURL    string     `json:"payment_url"`
}

// flexibleID accepts both numeric and string ids
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	*f = flexibleID(strings.Trim(string(data), `"`))
	return nil
}

func (p *BitcoinPlugin) baseURL() (string, error) {
	addr, err := p.resolver.ResolveServiceAddress(cryptoService)
	if err != nil {
		return "", apperror.ExternalService(err, "crypto processor is not configured")
	}
	return addr, nil
}

func (p *BitcoinPlugin) headers() map[string]string {
	return map[string]string{"Authorization": "Token " + p.apiKey}
}

func (p *BitcoinPlugin) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	base, err := p.baseURL()
	if err != nil {
		return nil, err
	}
	tx := req.Transaction
	receive := stringValue(req.Config, "receive_currency")
	if receive == "" {
		receive = "BTC"
	}

	payload := map[string]string{
		"order_id":         tx.PSPTransactionID,
		"price_amount":     tx.Amount.StringFixed(2),
		"price_currency":   strings.ToUpper(tx.Currency),
		"receive_currency": receive,
		"title":            "Order " + tx.MerchantOrderID,
		"callback_url":     req.NotifyURL,
		"success_url":      withQuery(req.ReturnURL, url.Values{"pspTransactionId": {tx.PSPTransactionID}, "status": {"success"}}),
		"cancel_url":       withQuery(req.ReturnURL, url.Values{"pspTransactionId": {tx.PSPTransactionID}, "status": {"cancel"}}),
	}
	var invoice cryptoInvoice
	if err := p.http.PostJSON(ctx, base+"/v2/orders", p.headers(), payload, &invoice); err != nil {
		return nil, apperror.ExternalService(err, "crypto invoice creation failed")
	}

	lifetime := p.expiry
	if minutes, err := strconv.Atoi(stringValue(req.Config, "expiry_minutes")); err == nil && minutes > 0 {
		lifetime = time.Duration(minutes) * time.Minute
	}
	expiresAt := p.now().Add(lifetime)
	if p.tracker != nil {
		if err := p.tracker.Track(ctx, tx.PSPTransactionID, expiresAt); err != nil {
			return nil, apperror.ExternalService(err, "failed to track invoice expiry")
		}
	}

	return &PaymentResult{
		Status:                models.TransactionStatusPending,
		Message:               "awaiting crypto payment",
		ExternalTransactionID: string(invoice.ID),
		RedirectURL:           invoice.PaymentURL,
		Data: map[string]interface{}{
			"invoice_id": string(invoice.ID),
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (p *BitcoinPlugin) GetStatus(ctx context.Context, tx *models.Transaction) (*StatusResult, error) {
	if tx.ExternalTransactionID == "" {
		return &StatusResult{Status: tx.Status, Message: "no invoice yet"}, nil
	}
	invoice, err := p.invoice(ctx, tx.ExternalTransactionID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:                statuscodec.Normalize(statuscodec.SystemCrypto, invoice.Status),
		RawStatus:             invoice.Status,
		ExternalTransactionID: string(invoice.ID),
	}, nil
}

func (p *BitcoinPlugin) invoice(ctx context.Context, id string) (*cryptoInvoice, error) {
	base, err := p.baseURL()
	if err != nil {
		return nil, err
	}
	var invoice cryptoInvoice
	if err := p.http.GetJSON(ctx, base+"/v2/orders/"+url.PathEscape(id), p.headers(), &invoice); err != nil {
		return nil, apperror.ExternalService(err, "crypto invoice lookup failed")
	}
	return &invoice, nil
}

// Refund is not offered: settled crypto payments cannot be pulled back by the PSP
func (p *BitcoinPlugin) Refund(ctx context.Context, tx *models.Transaction, amount decimal.Decimal) (*RefundResult, error) {
	return nil, apperror.Validation("refunds are not supported for bitcoin payments")
}

// ProcessCallback confirms a browser return with the processor before reporting a status
func (p *BitcoinPlugin) ProcessCallback(ctx context.Context, in CallbackInput) (*models.PaymentCallback, error) {
	tx := in.Transaction
	callback := &models.PaymentCallback{
		PSPTransactionID:      tx.PSPTransactionID,
		ExternalTransactionID: tx.ExternalTransactionID,
		Timestamp:             p.now(),
	}
	if in.Params["status"] == "cancel" {
		callback.Status = models.TransactionStatusCancelled
		callback.RawStatus = "cancel"
		callback.StatusMessage = "buyer cancelled the invoice"
		return callback, nil
	}

	status, err := p.GetStatus(ctx, tx)
	if err != nil {
		return nil, err
	}
	callback.Status = status.Status
	callback.RawStatus = status.RawStatus
	callback.StatusMessage = "crypto invoice " + status.RawStatus
	return callback, nil
}

// Expired reports whether a still unsettled invoice has outlived its advisory expiry
func (p *BitcoinPlugin) Expired(ctx context.Context, tx *models.Transaction, now time.Time) (bool, error) {
	if p.tracker == nil || tx.Status.IsSticky() {
		return false, nil
	}
	expiresAt, ok, err := p.tracker.ExpiresAt(ctx, tx.PSPTransactionID)
	if err != nil || !ok {
		return false, err
	}
	return !now.Before(expiresAt), nil
}

func (p *BitcoinPlugin) Release(ctx context.Context, tx *models.Transaction) error {
	if p.tracker == nil {
		return nil
	}
	return p.tracker.Forget(ctx, tx.PSPTransactionID)
}

func (p *BitcoinPlugin) ValidateConfiguration(config map[string]interface{}) error {
	if v := stringValue(config, "receive_currency"); v != "" && len(v) != 3 {
		return apperror.Validation("receive_currency must be a three letter code")
	}
	if v := stringValue(config, "expiry_minutes"); v != "" {
		if minutes, err := strconv.Atoi(v); err != nil || minutes <= 0 {
			return apperror.Validation("expiry_minutes must be a positive integer")
		}
	}
	return nil
}
