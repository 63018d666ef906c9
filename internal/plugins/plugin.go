// Package plugins implements the payment-method strategies and the registry that dispatches to them.
package plugins

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"sep_psp/internal/models"
)

// Payment type keys
const (
	TypeCard     = "card"
	TypePayPal   = "paypal"
	TypeBitcoin  = "bitcoin"
	TypeQR       = "qr"
	TypeMidtrans = "midtrans"
)

// Plugin is a payment method implementation
type Plugin interface {
	Name() string
	Type() string
	IsEnabled() bool
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	GetStatus(ctx context.Context, tx *models.Transaction) (*StatusResult, error)
	Refund(ctx context.Context, tx *models.Transaction, amount decimal.Decimal) (*RefundResult, error)
	ProcessCallback(ctx context.Context, in CallbackInput) (*models.PaymentCallback, error)
	ValidateConfiguration(config map[string]interface{}) error
}

// PaymentRequest carries everything a plugin needs to start a payment
type PaymentRequest struct {
	Transaction *models.Transaction
	Merchant    *models.WebShopClient
	Data        map[string]interface{}
	Config      map[string]interface{}
	// ReturnURL is the PSP endpoint the buyer's browser comes back to
	ReturnURL string
	// NotifyURL is the PSP endpoint a processor pushes asynchronous updates to
	NotifyURL string
}

// PaymentResult is the immediate outcome of ProcessPayment
type PaymentResult struct {
	Status                models.TransactionStatus
	Message               string
	ExternalTransactionID string
	RedirectURL           string
	Data                  map[string]interface{}
}

// StatusResult is the processor's view of a transaction
type StatusResult struct {
	Status                models.TransactionStatus
	RawStatus             string
	Message               string
	ExternalTransactionID string
}

type RefundResult struct {
	Success  bool
	RefundID string
	Message  string
}

// CallbackInput is a browser return or processor report routed to the plugin that owns the transaction
type CallbackInput struct {
	Transaction *models.Transaction
	Params      map[string]string
}

// PaymentMethod is a method offered to a merchant's buyer
type PaymentMethod struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ConfigMap decodes a stored JSON configuration into a map
func ConfigMap(raw []byte) map[string]interface{} {
	config := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &config)
	}
	return config
}

func stringValue(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case json.Number:
				return val.String()
			case float64:
				return decimal.NewFromFloat(val).String()
			}
		}
	}
	return ""
}
