package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MerchantStatus is the activation status of a web shop client
type MerchantStatus string

const (
	MerchantStatusActive    MerchantStatus = "Active"
	MerchantStatusInactive  MerchantStatus = "Inactive"
	MerchantStatusSuspended MerchantStatus = "Suspended"
)

// WebShopClient is a merchant registered with the PSP
type WebShopClient struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name               string         `gorm:"type:varchar(255)" json:"name"`
	MerchantID         string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"merchant_id"`
	MerchantSecretHash string         `gorm:"type:varchar(64);not null" json:"-"`
	Status             MerchantStatus `gorm:"type:varchar(20);not null;default:'Active'" json:"status"`
	BaseURL            string         `gorm:"type:text" json:"base_url"`

	// SubscriptionCallbackURL is notified in addition to the per-transaction callback URL
	SubscriptionCallbackURL string `gorm:"type:text" json:"subscription_callback_url"`

	PaymentMethods []WebShopClientPaymentType `gorm:"foreignKey:ClientID" json:"payment_methods,omitempty"`
}

// IsActive reports whether the merchant may create or process transactions
func (c WebShopClient) IsActive() bool {
	return c.Status == MerchantStatusActive
}

// CheckSecret compares the supplied secret with the stored hash in constant time
func (c WebShopClient) CheckSecret(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSecret(secret)), []byte(c.MerchantSecretHash)) == 1
}

// HashSecret returns the hex SHA-256 of a merchant secret or card security code
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// WebShopClientPaymentType grants a payment type to a merchant
type WebShopClientPaymentType struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ClientID      uint        `gorm:"not null;uniqueIndex:idx_client_payment_type,priority:1" json:"client_id"`
	PaymentTypeID uint        `gorm:"not null;uniqueIndex:idx_client_payment_type,priority:2" json:"payment_type_id"`
	Enabled       bool        `gorm:"default:true" json:"enabled"`
	PaymentType   PaymentType `gorm:"foreignKey:PaymentTypeID" json:"payment_type"`
}

// PaymentType describes a payment method offered by the PSP
type PaymentType struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Type          string         `gorm:"type:varchar(50);uniqueIndex;not null" json:"type"`
	Name          string         `gorm:"type:varchar(100)" json:"name"`
	Description   string         `gorm:"type:text" json:"description"`
	IsEnabled     bool           `gorm:"default:true" json:"is_enabled"`
	Configuration datatypes.JSON `json:"configuration,omitempty"`
}
