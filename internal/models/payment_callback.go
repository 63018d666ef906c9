package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentCallback is a normalized status report from an external processor.
// It is applied to a transaction and then discarded.
type PaymentCallback struct {
	PSPTransactionID      string
	MerchantOrderID       string
	ExternalTransactionID string
	Status                TransactionStatus
	RawStatus             string
	StatusMessage         string
	Amount                *decimal.Decimal
	Currency              string
	Timestamp             time.Time
	AdditionalData        map[string]string
}

// Identifier returns the id used to look the transaction up, preferring the PSP id
func (c PaymentCallback) Identifier() string {
	if c.PSPTransactionID != "" {
		return c.PSPTransactionID
	}
	return c.MerchantOrderID
}
