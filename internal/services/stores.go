package services

import (
	"gorm.io/gorm"

	"sep_psp/internal/config"
	"sep_psp/internal/store"
	"sep_psp/internal/store/memstore"
)

// Stores bundles the repositories a process needs
type Stores struct {
	DB           *gorm.DB
	Transactions store.TransactionStore
	Merchants    store.MerchantStore
	PaymentTypes store.PaymentTypeStore
	Accounts     store.AccountStore
	BankPayments store.BankPaymentStore
	Tasks        store.TaskStore
	History      store.CallbackHistoryStore
}

// OpenStores connects to the database and migrates it, or falls back to in-memory stores
// when the configuration selects the memory driver.
func OpenStores(cfg *config.Config) (*Stores, error) {
	if !cfg.UseDatabase() {
		return MemoryStores(), nil
	}

	db, err := InitDB(cfg.DatabaseURL, cfg.LogSQL)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Stores{
		DB:           db,
		Transactions: store.NewTransactionRepository(db),
		Merchants:    store.NewMerchantRepository(db),
		PaymentTypes: store.NewPaymentTypeRepository(db),
		Accounts:     store.NewAccountRepository(db),
		BankPayments: store.NewBankPaymentRepository(db),
		Tasks:        store.NewTaskRepository(db),
		History:      store.NewCallbackHistoryRepository(db),
	}, nil
}

func MemoryStores() *Stores {
	return &Stores{
		Transactions: memstore.NewTransactionStore(),
		Merchants:    memstore.NewMerchantStore(),
		PaymentTypes: memstore.NewPaymentTypeStore(),
		Accounts:     memstore.NewAccountStore(),
		BankPayments: memstore.NewBankPaymentStore(),
		Tasks:        memstore.NewTaskStore(),
		History:      memstore.NewCallbackHistoryStore(),
	}
}
