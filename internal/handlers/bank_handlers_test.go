package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"sep_psp/internal/bankapi"
	"sep_psp/internal/models"
	"sep_psp/internal/routing"
	"sep_psp/internal/store/memstore"
)

type recordingNotifier struct {
	mu        sync.Mutex
	callbacks []bankapi.ServerCallback
}

func (n *recordingNotifier) Notify(ctx context.Context, cb bankapi.ServerCallback) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, cb)
	return nil
}

type bankFixture struct {
	server   *echo.Echo
	notifier *recordingNotifier
	accounts *memstore.AccountStore
	buyer    *models.BankAccount
	merchant *models.BankAccount
}

func newBankServer(t *testing.T) *bankFixture {
	t.Helper()
	merchantID := "M1"
	accounts := memstore.NewAccountStore()
	buyer := accounts.AddAccount(models.BankAccount{
		AccountNumber: "160000000000000076",
		BankID:        "1",
		HolderName:    "Ana Anic",
		Balance:       decimal.RequireFromString("100"),
		Currency:      "USD",
		Cards: []models.Card{{
			PAN:              "4111111111111111",
			HolderName:       "Ana Anic",
			ExpiryMonth:      12,
			ExpiryYear:       2099,
			SecurityCodeHash: models.HashSecret("123"),
		}},
	})
	merchant := accounts.AddAccount(models.BankAccount{
		AccountNumber: "845000000040484987",
		BankID:        "1",
		HolderName:    "Webshop",
		MerchantID:    &merchantID,
		Balance:       decimal.Zero,
		Currency:      "USD",
	})
	engine := routing.NewEngine(routing.Config{BankID: "1", BINPrefixes: []string{"4111"}}, accounts, memstore.NewBankPaymentStore(), nil)

	notifier := &recordingNotifier{}
	handler := NewBankHandler(engine, notifier)
	handler.spawn = func(f func()) { f() }

	e := NewEcho("bank")
	RegisterBankRoutes(e, handler, testAPIKey)
	return &bankFixture{server: e, notifier: notifier, accounts: accounts, buyer: buyer, merchant: merchant}
}

func (f *bankFixture) post(t *testing.T, path string, body interface{}) (int, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := call(t, f.server, http.MethodPost, path, raw, map[string]string{bankapi.APIKeyHeader: testAPIKey})
	return rec.Code, rec.Body.Bytes()
}

func TestBankCardPaymentNotifiesPSP(t *testing.T) {
	f := newBankServer(t)
	req := bankapi.CardPaymentRequest{
		PSPTransactionID: "psp-1",
		MerchantID:       "M1",
		MerchantOrderID:  "O1",
		Amount:           decimal.RequireFromString("49.99"),
		Currency:         "USD",
		PAN:              "4111111111111111",
		SecurityCode:     "123",
		HolderName:       "Ana Anic",
		ExpiryMonth:      12,
		ExpiryYear:       2099,
	}

	code, body := f.post(t, "/api/card-payments", req)
	if code != http.StatusOK {
		t.Fatalf("status %d, body %s", code, body)
	}
	var result bankapi.PaymentResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Status != bankapi.StatusApproved || result.TransactionID != bankapi.AcquirerOrderID("psp-1") {
		t.Errorf("unexpected result %+v", result)
	}
	if got := f.accounts.Balance(f.buyer.ID); !got.Equal(decimal.RequireFromString("50.01")) {
		t.Errorf("buyer balance = %s", got)
	}

	if len(f.notifier.callbacks) != 1 {
		t.Fatalf("%d callbacks sent, expected 1", len(f.notifier.callbacks))
	}
	cb := f.notifier.callbacks[0]
	if cb.PSPTransactionID != "psp-1" || cb.Status != bankapi.StatusApproved || cb.Amount == nil {
		t.Errorf("unexpected callback %+v", cb)
	}

	// a retried request settles nothing new
	code, _ = f.post(t, "/api/card-payments", req)
	if code != http.StatusOK || !f.accounts.Balance(f.buyer.ID).Equal(decimal.RequireFromString("50.01")) {
		t.Errorf("retry changed the balance to %s", f.accounts.Balance(f.buyer.ID))
	}

	rec, _ := call(t, f.server, http.MethodGet, "/api/payments/"+bankapi.AcquirerOrderID("psp-1"), nil, map[string]string{bankapi.APIKeyHeader: testAPIKey})
	if rec.Code != http.StatusOK {
		t.Errorf("payment status: %d", rec.Code)
	}
}

func TestBankRejectsMissingAPIKey(t *testing.T) {
	f := newBankServer(t)
	rec, env := call(t, f.server, http.MethodGet, "/api/payments/unknown", nil, nil)
	if rec.Code != http.StatusUnauthorized || env.ErrorCode != "AUTHENTICATION_ERROR" {
		t.Errorf("status %d, body %s", rec.Code, rec.Body.String())
	}

	rec, env = call(t, f.server, http.MethodGet, "/api/payments/unknown", nil, map[string]string{bankapi.APIKeyHeader: testAPIKey})
	if rec.Code != http.StatusNotFound || env.ErrorCode != "NOT_FOUND" {
		t.Errorf("unknown payment: status %d", rec.Code)
	}
}

func TestBankQRFlow(t *testing.T) {
	f := newBankServer(t)

	code, body := f.post(t, "/api/qr/generate", bankapi.QRGenerateRequest{
		MerchantID:       "M1",
		PSPTransactionID: "psp-qr",
		MerchantOrderID:  "O-QR",
		Amount:           decimal.RequireFromString("20"),
		Currency:         "USD",
	})
	if code != http.StatusOK {
		t.Fatalf("generate: status %d, body %s", code, body)
	}
	var generated bankapi.QRGenerateResponse
	if err := json.Unmarshal(body, &generated); err != nil {
		t.Fatal(err)
	}
	png, err := base64.StdEncoding.DecodeString(generated.ImageBase64)
	if err != nil || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("image is not a PNG: %v", err)
	}

	code, body = f.post(t, "/api/qr/pay", bankapi.QRPayRequest{Payload: generated.Payload, PayerAccountNumber: f.buyer.AccountNumber})
	if code != http.StatusOK {
		t.Fatalf("pay: status %d, body %s", code, body)
	}
	if len(f.notifier.callbacks) != 1 || f.notifier.callbacks[0].MerchantOrderID != "O-QR" {
		t.Fatalf("unexpected callbacks %+v", f.notifier.callbacks)
	}
	if got := f.accounts.Balance(f.merchant.ID); !got.Equal(decimal.RequireFromString("20")) {
		t.Errorf("merchant balance = %s", got)
	}
}

func TestBankQRInsufficientFundsKeepsCodeOpen(t *testing.T) {
	f := newBankServer(t)
	_, body := f.post(t, "/api/qr/generate", bankapi.QRGenerateRequest{
		MerchantID: "M1", PSPTransactionID: "psp-big", MerchantOrderID: "O-BIG",
		Amount: decimal.RequireFromString("500"), Currency: "USD",
	})
	var generated bankapi.QRGenerateResponse
	if err := json.Unmarshal(body, &generated); err != nil {
		t.Fatal(err)
	}

	code, body := f.post(t, "/api/qr/pay", bankapi.QRPayRequest{Payload: generated.Payload, PayerAccountNumber: f.buyer.AccountNumber})
	if code != http.StatusOK {
		t.Fatalf("status %d, body %s", code, body)
	}
	var result bankapi.PaymentResult
	json.Unmarshal(body, &result)
	if result.Success || result.Status != bankapi.StatusInsufficientFunds {
		t.Errorf("unexpected result %+v", result)
	}
	if len(f.notifier.callbacks) != 0 {
		t.Error("an open code must not be reported to the psp")
	}
}
