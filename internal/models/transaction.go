package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionStatus is the canonical lifecycle status of a transaction
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "Pending"
	TransactionStatusProcessing TransactionStatus = "Processing"
	TransactionStatusCompleted  TransactionStatus = "Completed"
	TransactionStatusFailed     TransactionStatus = "Failed"
	TransactionStatusCancelled  TransactionStatus = "Cancelled"
	TransactionStatusRefunded   TransactionStatus = "Refunded"
)

// IsSticky reports whether no generic status update may move a transaction out of s.
// Refunded is reachable only from Completed through the refund operation and never left.
func (s TransactionStatus) IsSticky() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusRefunded:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusCompleted,
		TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusRefunded:
		return true
	}
	return false
}

// Transaction is one merchant payment brokered by the PSP
type Transaction struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	PSPTransactionID string `gorm:"type:varchar(64);uniqueIndex;not null" json:"psp_transaction_id"`

	// MerchantID, MerchantTimestamp, MerchantOrderID and Amount together guard against duplicate submissions
	MerchantID        uint            `gorm:"not null;uniqueIndex:idx_transactions_submission,priority:1" json:"merchant_id"`
	MerchantTimestamp time.Time       `gorm:"not null;uniqueIndex:idx_transactions_submission,priority:2" json:"merchant_timestamp"`
	MerchantOrderID   string          `gorm:"type:varchar(100);not null;index:idx_transactions_merchant_order;uniqueIndex:idx_transactions_submission,priority:3" json:"merchant_order_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,2);not null;uniqueIndex:idx_transactions_submission,priority:4" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`

	PaymentType           *string           `gorm:"type:varchar(50)" json:"payment_type"`
	Status                TransactionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	StatusMessage         string            `gorm:"type:text" json:"status_message"`
	ExternalTransactionID string            `gorm:"type:varchar(255);index" json:"external_transaction_id"`
	CompletedAt           *time.Time        `json:"completed_at"`
	RefundClaimedAt       *time.Time        `json:"-"`

	ReturnURL   string `gorm:"type:text" json:"return_url"`
	CancelURL   string `gorm:"type:text" json:"cancel_url"`
	CallbackURL string `gorm:"type:text" json:"callback_url"`

	CustomerName  string `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerEmail string `gorm:"type:varchar(255)" json:"customer_email"`

	PaymentData datatypes.JSON `json:"payment_data,omitempty"`

	Merchant WebShopClient `gorm:"foreignKey:MerchantID" json:"-"`
}

// PaymentTypeValue returns the selected payment type or an empty string
func (t Transaction) PaymentTypeValue() string {
	if t.PaymentType == nil {
		return ""
	}
	return *t.PaymentType
}
