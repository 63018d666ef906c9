package models

import (
	"crypto/subtle"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BankAccount is an account held at a bank, debited by card and QR payments
type BankAccount struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	AccountNumber string          `gorm:"type:varchar(18);uniqueIndex;not null" json:"account_number"`
	BankID        string          `gorm:"type:varchar(20);index;not null" json:"bank_id"`
	HolderName    string          `gorm:"type:varchar(255)" json:"holder_name"`
	MerchantID    *string         `gorm:"type:varchar(100);index" json:"merchant_id,omitempty"`
	Balance       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"balance"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`

	// Version is bumped on every balance write and checked by the optimistic update
	Version int `gorm:"not null;default:0" json:"version"`

	Cards []Card `gorm:"foreignKey:AccountID" json:"cards,omitempty"`
}

// Card is a payment card linked to a bank account
type Card struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PAN              string `gorm:"type:varchar(19);uniqueIndex;not null" json:"pan"`
	HolderName       string `gorm:"type:varchar(255)" json:"holder_name"`
	ExpiryMonth      int    `json:"expiry_month"`
	ExpiryYear       int    `json:"expiry_year"`
	SecurityCodeHash string `gorm:"type:varchar(64)" json:"-"`
	AccountID        uint   `gorm:"index;not null" json:"account_id"`
}

// Expired reports whether the card is past the end of its expiry month
func (c Card) Expired(now time.Time) bool {
	end := time.Date(c.ExpiryYear, time.Month(c.ExpiryMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.Before(end)
}

// CheckSecurityCode compares code with the stored hash in constant time
func (c Card) CheckSecurityCode(code string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSecret(code)), []byte(c.SecurityCodeHash)) == 1
}

// BankPaymentRole is the side of a card payment a bank played
type BankPaymentRole string

const (
	BankPaymentRoleAcquirer BankPaymentRole = "acquirer"
	BankPaymentRoleIssuer   BankPaymentRole = "issuer"
)

// BankPaymentRoute is the settlement path taken for a payment
type BankPaymentRoute string

const (
	BankPaymentRouteInternal BankPaymentRoute = "internal"
	BankPaymentRouteNetwork  BankPaymentRoute = "network"
	BankPaymentRouteQR       BankPaymentRoute = "qr"
)

// BankPaymentStatus is the outcome recorded by the bank
type BankPaymentStatus string

const (
	BankPaymentStatusProcessing BankPaymentStatus = "PROCESSING"
	BankPaymentStatusCompleted  BankPaymentStatus = "COMPLETED"
	BankPaymentStatusFailed     BankPaymentStatus = "FAILED"
	BankPaymentStatusRefunded   BankPaymentStatus = "REFUNDED"

	// Settling and Refunding are held by the one request moving balances for the payment
	BankPaymentStatusSettling  BankPaymentStatus = "SETTLING"
	BankPaymentStatusRefunding BankPaymentStatus = "REFUNDING"
)

// BankPayment records a payment handled by a bank so repeated requests are answered without a second debit
type BankPayment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BankID            string            `gorm:"type:varchar(20);not null;uniqueIndex:idx_bank_payments_order,priority:1" json:"bank_id"`
	Role              BankPaymentRole   `gorm:"type:varchar(10);not null;uniqueIndex:idx_bank_payments_order,priority:2" json:"role"`
	AcquirerOrderID   string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_bank_payments_order,priority:3" json:"acquirer_order_id"`
	AcquirerTimestamp time.Time         `json:"acquirer_timestamp"`
	IssuerOrderID     string            `gorm:"type:varchar(64);index" json:"issuer_order_id"`
	IssuerTimestamp   *time.Time        `json:"issuer_timestamp"`
	IssuerBankID      string            `gorm:"type:varchar(20)" json:"issuer_bank_id"`
	PSPTransactionID  string            `gorm:"type:varchar(64);index" json:"psp_transaction_id"`
	MerchantOrderID   string            `gorm:"type:varchar(100)" json:"merchant_order_id"`
	// AccountID is the debited buyer account, MerchantAccountID the credited one
	AccountID         *uint             `gorm:"index" json:"account_id"`
	MerchantAccountID *uint             `json:"merchant_account_id"`
	Amount            decimal.Decimal   `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency          string            `gorm:"type:varchar(3)" json:"currency"`
	Route             BankPaymentRoute  `gorm:"type:varchar(10)" json:"route"`
	Status            BankPaymentStatus `gorm:"type:varchar(20);not null" json:"status"`
	StatusMessage     string            `gorm:"type:text" json:"status_message"`
}
