package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/models"
	"sep_psp/internal/plugins"
	"sep_psp/internal/store/memstore"
)

const testSecret = "s3cret"

type stubPlugin struct {
	refunds  atomic.Int32
	released atomic.Int32
	decline  bool
	// hold, when set, keeps Refund waiting until it is closed
	hold     chan struct{}
}

func (p *stubPlugin) Name() string    { return "Stub" }
func (p *stubPlugin) Type() string    { return plugins.TypeCard }
func (p *stubPlugin) IsEnabled() bool { return true }
func (p *stubPlugin) ProcessPayment(ctx context.Context, req plugins.PaymentRequest) (*plugins.PaymentResult, error) {
	return &plugins.PaymentResult{Status: models.TransactionStatusProcessing}, nil
}
func (p *stubPlugin) GetStatus(ctx context.Context, tx *models.Transaction) (*plugins.StatusResult, error) {
	return &plugins.StatusResult{Status: tx.Status}, nil
}
func (p *stubPlugin) Refund(ctx context.Context, tx *models.Transaction, amount decimal.Decimal) (*plugins.RefundResult, error) {
	p.refunds.Add(1)
	if p.hold != nil {
		<-p.hold
	}
	if p.decline {
		return &plugins.RefundResult{Success: false, Message: "declined"}, nil
	}
	return &plugins.RefundResult{Success: true, RefundID: "R-1"}, nil
}
func (p *stubPlugin) ProcessCallback(ctx context.Context, in plugins.CallbackInput) (*models.PaymentCallback, error) {
	return nil, nil
}
func (p *stubPlugin) ValidateConfiguration(config map[string]interface{}) error { return nil }
func (p *stubPlugin) Expired(ctx context.Context, tx *models.Transaction, now time.Time) (bool, error) {
	return false, nil
}
func (p *stubPlugin) Release(ctx context.Context, tx *models.Transaction) error {
	p.released.Add(1)
	return nil
}

type stubResolver struct{ plugin *stubPlugin }

func (r stubResolver) Resolve(paymentType string) (plugins.Plugin, error) {
	if paymentType != plugins.TypeCard {
		return nil, apperror.NotFound("payment method %s not found", paymentType)
	}
	return r.plugin, nil
}

type countingListener struct {
	mu        sync.Mutex
	completed []string
}

func (l *countingListener) TransactionCompleted(ctx context.Context, tx *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, tx.PSPTransactionID)
	return nil
}

func (l *countingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed)
}

type fixture struct {
	ledger    *Ledger
	merchants *memstore.MerchantStore
	plugin    *stubPlugin
	listener  *countingListener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	merchants := memstore.NewMerchantStore(
		models.WebShopClient{MerchantID: "M1", MerchantSecretHash: models.HashSecret(testSecret), Status: models.MerchantStatusActive},
		models.WebShopClient{MerchantID: "M2", MerchantSecretHash: models.HashSecret(testSecret), Status: models.MerchantStatusSuspended},
	)
	plugin := &stubPlugin{}
	listener := &countingListener{}
	l := New(memstore.NewTransactionStore(), merchants, stubResolver{plugin: plugin}, listener)
	l.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return &fixture{ledger: l, merchants: merchants, plugin: plugin, listener: listener}
}

func createRequest(orderID string) CreateRequest {
	return CreateRequest{
		Credentials:       Credentials{MerchantID: "M1", MerchantSecret: testSecret},
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "eur",
		MerchantOrderID:   orderID,
		MerchantTimestamp: time.Date(2026, 3, 15, 11, 59, 0, 0, time.UTC),
		ReturnURL:         "https://shop.example/return",
	}
}

func (f *fixture) create(t *testing.T, orderID string) *models.Transaction {
	t.Helper()
	tx, err := f.ledger.Create(context.Background(), createRequest(orderID))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return tx
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")

	if tx.Status != models.TransactionStatusPending {
		t.Errorf("status = %s, expected Pending", tx.Status)
	}
	if tx.Currency != "EUR" {
		t.Errorf("currency = %s, expected EUR", tx.Currency)
	}
	if len(tx.PSPTransactionID) != 36 {
		t.Errorf("unexpected psp transaction id %q", tx.PSPTransactionID)
	}
}

func TestCreateRejectsDuplicateSubmission(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER-1")

	_, err := f.ledger.Create(context.Background(), createRequest("ORDER-1"))
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// a different amount is a different submission
	req := createRequest("ORDER-1")
	req.Amount = decimal.RequireFromString("100.01")
	if _, err := f.ledger.Create(context.Background(), req); err != nil {
		t.Fatalf("expected distinct submission to succeed, got %v", err)
	}
}

func TestCreateAuthentication(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong secret", Credentials{MerchantID: "M1", MerchantSecret: "nope"}},
		{"unknown merchant", Credentials{MerchantID: "M9", MerchantSecret: testSecret}},
		{"suspended merchant", Credentials{MerchantID: "M2", MerchantSecret: testSecret}},
		{"missing secret", Credentials{MerchantID: "M1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest("ORDER-1")
			req.Credentials = tt.creds
			if _, err := f.ledger.Create(context.Background(), req); !apperror.Is(err, apperror.KindAuthentication) {
				t.Errorf("expected authentication error, got %v", err)
			}
		})
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	req := createRequest("ORDER-1")
	req.Amount = decimal.Zero
	if _, err := f.ledger.Create(context.Background(), req); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error for zero amount, got %v", err)
	}

	req = createRequest(" ")
	if _, err := f.ledger.Create(context.Background(), req); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error for empty order id, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	got, err := f.ledger.Lookup(ctx, "  "+tx.PSPTransactionID+" ")
	if err != nil || got.PSPTransactionID != tx.PSPTransactionID {
		t.Fatalf("lookup by psp id failed: %v", err)
	}
	got, err = f.ledger.Lookup(ctx, "ORDER-1")
	if err != nil || got.PSPTransactionID != tx.PSPTransactionID {
		t.Fatalf("lookup by order id failed: %v", err)
	}
	if _, err := f.ledger.Lookup(ctx, "ORDER-404"); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	req := createRequest("ORDER-1")
	req.Amount = decimal.RequireFromString("5")
	if _, err := f.ledger.Create(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Lookup(ctx, "ORDER-1"); !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected conflict for ambiguous order id, got %v", err)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	tests := []struct {
		name     string
		path     []models.TransactionStatus
		expected models.TransactionStatus
	}{
		{"pending to completed", []models.TransactionStatus{models.TransactionStatusCompleted}, models.TransactionStatusCompleted},
		{"through processing", []models.TransactionStatus{models.TransactionStatusProcessing, models.TransactionStatusCompleted}, models.TransactionStatusCompleted},
		{"no regression to pending", []models.TransactionStatus{models.TransactionStatusProcessing, models.TransactionStatusPending}, models.TransactionStatusProcessing},
		{"completed is sticky", []models.TransactionStatus{models.TransactionStatusCompleted, models.TransactionStatusFailed}, models.TransactionStatusCompleted},
		{"failed is sticky", []models.TransactionStatus{models.TransactionStatusFailed, models.TransactionStatusCompleted}, models.TransactionStatusFailed},
		{"cancelled is sticky", []models.TransactionStatus{models.TransactionStatusCancelled, models.TransactionStatusProcessing}, models.TransactionStatusCancelled},
		{"approved payment voided", []models.TransactionStatus{models.TransactionStatusProcessing, models.TransactionStatusCancelled}, models.TransactionStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tx := f.create(t, "ORDER-1")
			for _, status := range tt.path {
				if _, err := f.ledger.UpdateStatus(context.Background(), tx.PSPTransactionID, Update{Status: status}); err != nil {
					t.Fatalf("UpdateStatus(%s) error = %v", status, err)
				}
			}
			got, _ := f.ledger.Get(context.Background(), tx.PSPTransactionID)
			if got.Status != tt.expected {
				t.Errorf("status = %s, expected %s", got.Status, tt.expected)
			}
		})
	}
}

func TestUpdateStatusIdempotentCompletion(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	first, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusCompleted, ExternalTransactionID: "EXT-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Applied || first.Previous != models.TransactionStatusPending {
		t.Errorf("unexpected first result %+v", first)
	}
	if first.Transaction.CompletedAt == nil {
		t.Error("expected completedAt to be set")
	}

	second, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusCompleted, ExternalTransactionID: "EXT-2"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Applied {
		t.Error("duplicate completion must not be applied")
	}
	if second.Transaction.ExternalTransactionID != "EXT-1" {
		t.Errorf("external id changed to %s", second.Transaction.ExternalTransactionID)
	}
	if f.listener.count() != 1 {
		t.Errorf("listener called %d times, expected 1", f.listener.count())
	}
}

func TestUpdateStatusSameStatusKeepsDetails(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	if _, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusProcessing, StatusMessage: "awaiting bank"}); err != nil {
		t.Fatal(err)
	}
	result, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{
		Status:                models.TransactionStatusProcessing,
		ExternalTransactionID: "EXT-9",
		PaymentData:           map[string]interface{}{"capture_id": "C-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied {
		t.Error("same status update must not count as a transition")
	}
	got := result.Transaction
	if got.ExternalTransactionID != "EXT-9" || got.StatusMessage != "awaiting bank" {
		t.Errorf("unexpected details: external=%s message=%s", got.ExternalTransactionID, got.StatusMessage)
	}
	if plugins.ConfigMap(got.PaymentData)["capture_id"] != "C-1" {
		t.Errorf("payment data not merged: %s", got.PaymentData)
	}
}

func TestFinalStatusReleasesExpiry(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	f.ledger.AssignPaymentMethod(ctx, tx.PSPTransactionID, plugins.TypeCard)
	if _, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusProcessing}); err != nil {
		t.Fatal(err)
	}
	if f.plugin.released.Load() != 0 {
		t.Fatalf("expiry released while still processing")
	}
	if _, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusCancelled}); err != nil {
		t.Fatal(err)
	}
	// a late duplicate is not applied and releases nothing
	f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusCompleted})
	if f.plugin.released.Load() != 1 {
		t.Errorf("expiry released %d times, expected 1", f.plugin.released.Load())
	}
}

func TestUpdateStatusRejectsRefunded(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")

	_, err := f.ledger.UpdateStatus(context.Background(), tx.PSPTransactionID, Update{Status: models.TransactionStatusRefunded})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = f.ledger.UpdateStatus(context.Background(), tx.PSPTransactionID, Update{Status: "Settled"})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestUpdateStatusConcurrentTerminalReports(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 20; i++ {
		status := models.TransactionStatusCompleted
		if i%2 == 1 {
			status = models.TransactionStatusFailed
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.ledger.UpdateStatus(context.Background(), tx.PSPTransactionID, Update{Status: status})
			if err != nil {
				t.Errorf("UpdateStatus() error = %v", err)
				return
			}
			if result.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Errorf("%d updates applied, expected exactly 1", applied.Load())
	}
	got, _ := f.ledger.Get(context.Background(), tx.PSPTransactionID)
	if !got.Status.IsSticky() {
		t.Errorf("status = %s, expected a terminal status", got.Status)
	}
}

func TestAssignPaymentMethod(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	got, err := f.ledger.AssignPaymentMethod(ctx, tx.PSPTransactionID, plugins.TypeCard)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentTypeValue() != plugins.TypeCard {
		t.Errorf("payment type = %q", got.PaymentTypeValue())
	}

	if _, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusFailed}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.AssignPaymentMethod(ctx, tx.PSPTransactionID, plugins.TypeCard); !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected conflict for failed transaction, got %v", err)
	}
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	if _, err := f.ledger.Refund(ctx, tx.PSPTransactionID, decimal.Zero); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for pending refund, got %v", err)
	}

	if _, err := f.ledger.AssignPaymentMethod(ctx, tx.PSPTransactionID, plugins.TypeCard); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusCompleted}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Refund(ctx, tx.PSPTransactionID, decimal.RequireFromString("100.01")); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for excessive amount, got %v", err)
	}

	result, err := f.ledger.Refund(ctx, tx.PSPTransactionID, decimal.Zero)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if result.Transaction.Status != models.TransactionStatusRefunded {
		t.Errorf("status = %s, expected Refunded", result.Transaction.Status)
	}
	if result.Message != "refunded 100.00 EUR" {
		t.Errorf("message = %q", result.Message)
	}

	if _, err := f.ledger.Refund(ctx, tx.PSPTransactionID, decimal.Zero); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected second refund to be rejected, got %v", err)
	}
	if f.plugin.refunds.Load() != 1 {
		t.Errorf("plugin refunded %d times", f.plugin.refunds.Load())
	}
}

func TestRefundDeclined(t *testing.T) {
	f := newFixture(t)
	f.plugin.decline = true
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	f.ledger.AssignPaymentMethod(ctx, tx.PSPTransactionID, plugins.TypeCard)
	f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusCompleted})

	if _, err := f.ledger.Refund(ctx, tx.PSPTransactionID, decimal.Zero); !apperror.Is(err, apperror.KindExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	got, _ := f.ledger.Get(ctx, tx.PSPTransactionID)
	if got.Status != models.TransactionStatusCompleted {
		t.Errorf("status = %s, expected Completed", got.Status)
	}

	f.plugin.decline = false
	if _, err := f.ledger.Refund(ctx, tx.PSPTransactionID, decimal.Zero); err != nil {
		t.Fatalf("retry after decline error = %v", err)
	}
	if f.plugin.refunds.Load() != 2 {
		t.Errorf("plugin refunded %d times, expected 2", f.plugin.refunds.Load())
	}
}

func TestConcurrentRefundsReachPluginOnce(t *testing.T) {
	f := newFixture(t)
	f.plugin.hold = make(chan struct{})
	tx := f.create(t, "ORDER-1")
	ctx := context.Background()

	f.ledger.AssignPaymentMethod(ctx, tx.PSPTransactionID, plugins.TypeCard)
	f.ledger.UpdateStatus(ctx, tx.PSPTransactionID, Update{Status: models.TransactionStatusCompleted})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.ledger.Refund(ctx, tx.PSPTransactionID, decimal.Zero)
			errs <- err
		}()
	}

	// the refund holding the claim is parked in the plugin, so the other one finishes first
	if err := <-errs; !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict while a refund is in flight, got %v", err)
	}
	close(f.plugin.hold)
	if err := <-errs; err != nil {
		t.Fatalf("Refund() error = %v", err)
	}

	if f.plugin.refunds.Load() != 1 {
		t.Errorf("plugin refunded %d times, expected 1", f.plugin.refunds.Load())
	}
	got, _ := f.ledger.Get(ctx, tx.PSPTransactionID)
	if got.Status != models.TransactionStatusRefunded {
		t.Errorf("status = %s, expected Refunded", got.Status)
	}
}
