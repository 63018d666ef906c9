package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CallbackChannel is the ingress path a status report arrived on
type CallbackChannel string

const (
	CallbackChannelServer  CallbackChannel = "server"
	CallbackChannelReturn  CallbackChannel = "return"
	CallbackChannelWebhook CallbackChannel = "webhook"
)

// PaymentCallbackHistory is an audit record of one ingested status report
type PaymentCallbackHistory struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Channel          CallbackChannel   `gorm:"type:varchar(20);not null" json:"channel"`
	Source           string            `gorm:"type:varchar(50);not null" json:"source"`
	Identifier       string            `gorm:"type:varchar(100);index" json:"identifier"`
	RawStatus        string            `gorm:"type:varchar(100)" json:"raw_status"`
	NormalizedStatus TransactionStatus `gorm:"type:varchar(20)" json:"normalized_status"`
	Applied          bool              `json:"applied"`
	Outcome          string            `gorm:"type:text" json:"outcome"`
	Metadata         datatypes.JSON    `json:"metadata"`
}
