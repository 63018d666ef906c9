// Package bankapi holds the request and response bodies exchanged between the PSP, banks and the card network.
package bankapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status values reported by banks and the card network
const (
	StatusApproved          = "APPROVED"
	StatusDeclined          = "DECLINED"
	StatusInsufficientFunds = "INSUFFICIENT_FUNDS"
	StatusIssuerUnavailable = "ISSUER_UNAVAILABLE"
	StatusInProgress        = "IN_PROGRESS"
	StatusRefunded          = "REFUNDED"
	StatusError             = "ERROR"
)

// APIKeyHeader authenticates service to service calls
const APIKeyHeader = "X-API-Key"

var orderNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e90-a3c1-2d8f9e0b7a64")

// AcquirerOrderID derives the bank order id for a PSP transaction.
// The PSP and the bank compute the same value, so a retried request maps onto the existing bank payment.
func AcquirerOrderID(pspTransactionID string) string {
	return uuid.NewSHA1(orderNamespace, []byte(pspTransactionID)).String()
}

// CardPaymentRequest is sent by the PSP to the acquiring bank
type CardPaymentRequest struct {
	PSPTransactionID string          `json:"psp_transaction_id"`
	MerchantID       string          `json:"merchant_id"`
	MerchantOrderID  string          `json:"merchant_order_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PAN              string          `json:"pan"`
	SecurityCode     string          `json:"security_code"`
	HolderName       string          `json:"holder_name"`
	ExpiryMonth      int             `json:"expiry_month"`
	ExpiryYear       int             `json:"expiry_year"`
}

// PaymentResult is the uniform outcome of a bank payment
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
	Status        string `json:"status"`
}

// NetworkRequest is forwarded by the acquirer through the card network to the issuer
type NetworkRequest struct {
	PAN               string          `json:"pan"`
	SecurityCode      string          `json:"security_code"`
	HolderName        string          `json:"holder_name"`
	ExpiryMonth       int             `json:"expiry_month"`
	ExpiryYear        int             `json:"expiry_year"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	AcquirerOrderID   string          `json:"acquirer_order_id"`
	AcquirerTimestamp time.Time       `json:"acquirer_timestamp"`
	AcquirerBankID    string          `json:"acquirer_bank_id"`
}

// NetworkResponse is the issuer's answer relayed by the card network
type NetworkResponse struct {
	Success         bool      `json:"success"`
	IssuerOrderID   string    `json:"issuer_order_id"`
	IssuerTimestamp time.Time `json:"issuer_timestamp"`
	IssuerBankID    string    `json:"issuer_bank_id"`
	Status          string    `json:"status"`
	StatusMessage   string    `json:"status_message"`
}

// RefundRequest asks a bank to reverse a recorded payment
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// NetworkRefundRequest reverses an issuer payment through the card network
type NetworkRefundRequest struct {
	IssuerBankID  string          `json:"issuer_bank_id"`
	IssuerOrderID string          `json:"issuer_order_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// QRGenerateRequest asks the merchant's bank to emit a payment QR code
type QRGenerateRequest struct {
	MerchantID       string          `json:"merchant_id"`
	PSPTransactionID string          `json:"psp_transaction_id"`
	MerchantOrderID  string          `json:"merchant_order_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PayeeName        string          `json:"payee_name"`
}

type QRGenerateResponse struct {
	Payload     string `json:"payload"`
	ImageBase64 string `json:"image_base64"`
}

// QRPayRequest is submitted by a payer's banking app after scanning a code
type QRPayRequest struct {
	Payload            string `json:"payload"`
	PayerAccountNumber string `json:"payer_account_number"`
}

// ServerCallback is posted by a bank to the PSP once a payment is settled
type ServerCallback struct {
	PSPTransactionID      string           `json:"psp_transaction_id,omitempty"`
	MerchantOrderID       string           `json:"merchant_order_id,omitempty"`
	ExternalTransactionID string           `json:"external_transaction_id"`
	Status                string           `json:"status"`
	Message               string           `json:"message,omitempty"`
	Amount                *decimal.Decimal `json:"amount,omitempty"`
	Currency              string           `json:"currency,omitempty"`
	Timestamp             time.Time        `json:"timestamp"`
}
