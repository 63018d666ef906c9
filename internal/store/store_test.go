package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sep_psp/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedMerchant(t *testing.T, db *gorm.DB) models.WebShopClient {
	t.Helper()
	merchant := models.WebShopClient{
		Name:               "Shop",
		MerchantID:         "M1",
		MerchantSecretHash: models.HashSecret("secret"),
		Status:             models.MerchantStatusActive,
	}
	if err := db.Create(&merchant).Error; err != nil {
		t.Fatalf("failed to seed merchant: %v", err)
	}
	return merchant
}

func newTransaction(merchantID uint, pspID string, ts time.Time) *models.Transaction {
	return &models.Transaction{
		PSPTransactionID:  pspID,
		MerchantID:        merchantID,
		MerchantTimestamp: ts,
		MerchantOrderID:   "O1",
		Amount:            decimal.RequireFromString("49.99"),
		Currency:          "USD",
		Status:            models.TransactionStatusPending,
	}
}

func TestTransactionRepositoryDuplicateSubmission(t *testing.T) {
	db := openTestDB(t)
	merchant := seedMerchant(t, db)
	repo := NewTransactionRepository(db)
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Insert(ctx, newTransaction(merchant.ID, "psp-1", ts)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := repo.Insert(ctx, newTransaction(merchant.ID, "psp-2", ts))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	found, err := repo.FindByMerchantOrderID(ctx, "O1")
	if err != nil {
		t.Fatalf("FindByMerchantOrderID failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected exactly one persisted transaction, got %d", len(found))
	}
}

func TestTransactionRepositoryCompareAndSet(t *testing.T) {
	db := openTestDB(t)
	merchant := seedMerchant(t, db)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	if err := repo.Insert(ctx, newTransaction(merchant.ID, "psp-1", time.Now())); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	now := time.Now()
	change := StatusChange{
		Status:                models.TransactionStatusCompleted,
		StatusMessage:         "paid",
		ExternalTransactionID: "ext-1",
		CompletedAt:           &now,
	}
	if err := repo.Update(ctx, "psp-1", models.TransactionStatusPending, change); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stale := StatusChange{Status: models.TransactionStatusFailed}
	if err := repo.Update(ctx, "psp-1", models.TransactionStatusPending, stale); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}
	if err := repo.Update(ctx, "missing", models.TransactionStatusPending, stale); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tx, err := repo.FindByPSPID(ctx, "psp-1")
	if err != nil {
		t.Fatalf("FindByPSPID failed: %v", err)
	}
	if tx.Status != models.TransactionStatusCompleted || tx.ExternalTransactionID != "ext-1" || tx.CompletedAt == nil {
		t.Errorf("unexpected stored transaction: %+v", tx)
	}
}

func TestTransactionRepositoryClaimRefund(t *testing.T) {
	db := openTestDB(t)
	merchant := seedMerchant(t, db)
	repo := NewTransactionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tx := newTransaction(merchant.ID, "psp-1", now)
	tx.Status = models.TransactionStatusCompleted
	if err := repo.Insert(ctx, tx); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := repo.ClaimRefund(ctx, "psp-1", now, now.Add(-time.Minute)); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := repo.ClaimRefund(ctx, "psp-1", now, now.Add(-time.Minute)); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification for a held claim, got %v", err)
	}
	later := now.Add(time.Hour)
	if err := repo.ClaimRefund(ctx, "psp-1", later, later.Add(-time.Minute)); err != nil {
		t.Errorf("stale claim should be taken over, got %v", err)
	}

	if err := repo.ReleaseRefund(ctx, "psp-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := repo.ClaimRefund(ctx, "psp-1", later, later.Add(-time.Minute)); err != nil {
		t.Errorf("released claim should be free, got %v", err)
	}
	if err := repo.ClaimRefund(ctx, "missing", now, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepositoryOptimisticDebit(t *testing.T) {
	db := openTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	account := models.BankAccount{
		AccountNumber: "160000000000000076",
		BankID:        "bank-a",
		Balance:       decimal.RequireFromString("100.00"),
		Currency:      "RSD",
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	card := models.Card{PAN: "4111111111111111", AccountID: account.ID, ExpiryMonth: 12, ExpiryYear: 2030}
	if err := db.Create(&card).Error; err != nil {
		t.Fatalf("failed to seed card: %v", err)
	}

	first, _, err := repo.GetByCard(ctx, "4111111111111111")
	if err != nil {
		t.Fatalf("GetByCard failed: %v", err)
	}
	second, err := repo.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	if err := repo.Debit(ctx, first, decimal.RequireFromString("30")); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if err := repo.Debit(ctx, second, decimal.RequireFromString("30")); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification on stale version, got %v", err)
	}

	stored, err := repo.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !stored.Balance.Equal(decimal.RequireFromString("70")) {
		t.Errorf("balance = %s, expected 70", stored.Balance)
	}
	if stored.Version != 1 {
		t.Errorf("version = %d, expected 1", stored.Version)
	}

	if _, _, err := repo.GetByCard(ctx, "5555555555554444"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown card, got %v", err)
	}
}

func TestTaskRepositoryClaimDue(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	now := time.Now()

	for i, due := range []time.Time{now.Add(-time.Minute), now.Add(-time.Second), now.Add(time.Hour)} {
		task := &models.ScheduledTask{
			TaskName:   fmt.Sprintf("task-%d", i),
			Due:        due,
			Status:     models.ScheduledTaskStatusActive,
			TaskType:   models.ScheduledTaskTypeOneTime,
			MaxAttempt: 3,
		}
		if err := repo.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	claimed, err := repo.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDue failed: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 due tasks, got %d", len(claimed))
	}
	if claimed[0].TaskName != "task-0" {
		t.Errorf("expected oldest task first, got %s", claimed[0].TaskName)
	}

	again, err := repo.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("second ClaimDue failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("claimed tasks must not be handed out twice, got %d", len(again))
	}

	// the runner that claimed them never finished
	later := now.Add(TaskLease + time.Minute)
	reclaimed, err := repo.ClaimDue(ctx, later, 10)
	if err != nil {
		t.Fatalf("ClaimDue after lease failed: %v", err)
	}
	if len(reclaimed) != 2 {
		t.Fatalf("expected 2 abandoned tasks to be reclaimed, got %d", len(reclaimed))
	}
	if reclaimed[0].LastRun == nil || !reclaimed[0].LastRun.Equal(later) {
		t.Errorf("reclaimed task last_run = %v, expected %v", reclaimed[0].LastRun, later)
	}
	if again, _ := repo.ClaimDue(ctx, later, 10); len(again) != 0 {
		t.Errorf("a freshly reclaimed task must not be handed out again, got %d", len(again))
	}
}

func TestBankPaymentRepositoryTransition(t *testing.T) {
	db := openTestDB(t)
	repo := NewBankPaymentRepository(db)
	ctx := context.Background()

	payment := &models.BankPayment{
		BankID:          "bank-a",
		Role:            models.BankPaymentRoleAcquirer,
		AcquirerOrderID: "order-1",
		Amount:          decimal.RequireFromString("40"),
		Route:           models.BankPaymentRouteInternal,
		Status:          models.BankPaymentStatusCompleted,
	}
	if err := repo.Create(ctx, payment); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Transition(ctx, payment.ID, models.BankPaymentStatusCompleted, models.BankPaymentStatusRefunding); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	if err := repo.Transition(ctx, payment.ID, models.BankPaymentStatusCompleted, models.BankPaymentStatusRefunding); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification for a taken payment, got %v", err)
	}
	if err := repo.Transition(ctx, payment.ID+100, models.BankPaymentStatusCompleted, models.BankPaymentStatusRefunding); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown payment, got %v", err)
	}

	stored, err := repo.FindByAcquirerOrder(ctx, "bank-a", models.BankPaymentRoleAcquirer, "order-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Status != models.BankPaymentStatusRefunding {
		t.Errorf("status = %s, expected REFUNDING", stored.Status)
	}
}
