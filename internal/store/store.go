// Package store defines the persistence contracts of the PSP, bank and task runner, and their gorm implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"sep_psp/internal/models"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrDuplicate              = errors.New("duplicate record")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// StatusChange is applied to a transaction by a compare-and-set update.
// Empty optional fields leave the stored value unchanged.
type StatusChange struct {
	Status                models.TransactionStatus
	StatusMessage         string
	ExternalTransactionID string
	CompletedAt           *time.Time
	PaymentType           *string
	PaymentData           datatypes.JSON
}

type TransactionStore interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	FindByPSPID(ctx context.Context, pspTransactionID string) (*models.Transaction, error)
	FindByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]models.Transaction, error)
	FindDuplicate(ctx context.Context, merchantID uint, merchantTimestamp time.Time, merchantOrderID string, amount decimal.Decimal) (*models.Transaction, error)
	// Update applies change only while the stored status still equals expected,
	// otherwise it returns ErrConcurrentModification.
	Update(ctx context.Context, pspTransactionID string, expected models.TransactionStatus, change StatusChange) error
	// ClaimRefund marks a Completed transaction as being refunded by one caller.
	// A claim older than staleBefore may be taken over. It returns
	// ErrConcurrentModification while another claim is held or the transaction
	// is no longer Completed.
	ClaimRefund(ctx context.Context, pspTransactionID string, now, staleBefore time.Time) error
	ReleaseRefund(ctx context.Context, pspTransactionID string) error
}

type MerchantStore interface {
	FindByMerchantID(ctx context.Context, merchantID string) (*models.WebShopClient, error)
	FindByID(ctx context.Context, id uint) (*models.WebShopClient, error)
	List(ctx context.Context) ([]models.WebShopClient, error)
}

type PaymentTypeStore interface {
	List(ctx context.Context) ([]models.PaymentType, error)
	Create(ctx context.Context, paymentType *models.PaymentType) error
}

type AccountStore interface {
	GetByCard(ctx context.Context, pan string) (*models.BankAccount, *models.Card, error)
	GetByMerchant(ctx context.Context, merchantID string) (*models.BankAccount, error)
	GetByAccountNumber(ctx context.Context, accountNumber string) (*models.BankAccount, error)
	GetByID(ctx context.Context, id uint) (*models.BankAccount, error)
	// Debit and Credit write the new balance only if account.Version is still current,
	// otherwise they return ErrConcurrentModification. On success account is updated in place.
	Debit(ctx context.Context, account *models.BankAccount, amount decimal.Decimal) error
	Credit(ctx context.Context, account *models.BankAccount, amount decimal.Decimal) error
}

type BankPaymentStore interface {
	Create(ctx context.Context, payment *models.BankPayment) error
	FindByAcquirerOrder(ctx context.Context, bankID string, role models.BankPaymentRole, acquirerOrderID string) (*models.BankPayment, error)
	FindByIssuerOrder(ctx context.Context, bankID string, issuerOrderID string) (*models.BankPayment, error)
	// FindOpen returns the latest acquirer payment on route that is still processing for merchantOrderID
	FindOpen(ctx context.Context, bankID string, route models.BankPaymentRoute, merchantOrderID string) (*models.BankPayment, error)
	Save(ctx context.Context, payment *models.BankPayment) error
	// Transition moves the payment from one status to another only while it is still in from,
	// otherwise it returns ErrConcurrentModification.
	Transition(ctx context.Context, id uint, from, to models.BankPaymentStatus) error
}

type TaskStore interface {
	Enqueue(ctx context.Context, task *models.ScheduledTask) error
	// ClaimDue marks up to limit active tasks due at now as running and returns them.
	// Tasks left running longer than TaskLease by a crashed runner are claimed again.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledTask, error)
	Save(ctx context.Context, task *models.ScheduledTask) error
	RecordHistory(ctx context.Context, history *models.ScheduledTaskHistory) error
}

type CallbackHistoryStore interface {
	Record(ctx context.Context, entry *models.PaymentCallbackHistory) error
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// Models lists every persisted model in migration order
func Models() []interface{} {
	return []interface{}{
		&models.PaymentType{},
		&models.WebShopClient{},
		&models.WebShopClientPaymentType{},
		&models.Transaction{},
		&models.PaymentCallbackHistory{},
		&models.BankAccount{},
		&models.Card{},
		&models.BankPayment{},
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	}
}
