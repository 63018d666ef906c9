package plugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/discovery"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/models"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func validCardData() map[string]interface{} {
	return map[string]interface{}{
		"pan":           "4111 1111 1111 1111",
		"security_code": "123",
		"holder_name":   "Ana Anic",
		"expiry_date":   "12/27",
	}
}

func testTransaction() *models.Transaction {
	return &models.Transaction{
		PSPTransactionID: "psp-1",
		MerchantOrderID:  "O1",
		Amount:           decimal.RequireFromString("49.99"),
		Currency:         "USD",
		Status:           models.TransactionStatusPending,
	}
}

func TestLuhnValid(t *testing.T) {
	tests := []struct {
		pan      string
		expected bool
	}{
		{"4111111111111111", true},
		{"5555555555554444", true},
		{"4111111111111112", false},
		{"41111111111a1111", false},
		{"411111", false},
	}
	for _, tt := range tests {
		if got := LuhnValid(tt.pan); got != tt.expected {
			t.Errorf("LuhnValid(%s) = %v, expected %v", tt.pan, got, tt.expected)
		}
	}
}

func TestParseCardDetails(t *testing.T) {
	card, err := ParseCardDetails(validCardData(), testNow)
	if err != nil {
		t.Fatalf("ParseCardDetails() error = %v", err)
	}
	if card.PAN != "4111111111111111" || card.ExpiryMonth != 12 || card.ExpiryYear != 2027 {
		t.Errorf("unexpected card %+v", card)
	}
	if card.Masked() != "************1111" {
		t.Errorf("Masked() = %s", card.Masked())
	}

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing pan", func(d map[string]interface{}) { delete(d, "pan") }},
		{"luhn failure", func(d map[string]interface{}) { d["pan"] = "4111111111111112" }},
		{"short security code", func(d map[string]interface{}) { d["security_code"] = "12" }},
		{"expired", func(d map[string]interface{}) { d["expiry_date"] = "02/26" }},
		{"bad month", func(d map[string]interface{}) { d["expiry_date"] = "13/27" }},
		{"bad format", func(d map[string]interface{}) { d["expiry_date"] = "1227" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := validCardData()
			tt.mutate(data)
			if _, err := ParseCardDetails(data, testNow); !apperror.Is(err, apperror.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func newCardPlugin(t *testing.T, handler http.HandlerFunc) *CardPlugin {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewCardPlugin(discovery.NewStatic(map[string]string{"bank": srv.URL}), httpclient.New(5*time.Second), "secret")
	p.now = func() time.Time { return testNow }
	return p
}

func TestCardProcessPayment(t *testing.T) {
	tests := []struct {
		name     string
		result   bankapi.PaymentResult
		expected models.TransactionStatus
	}{
		{"approved", bankapi.PaymentResult{Success: true, TransactionID: "bank-1", Status: bankapi.StatusApproved}, models.TransactionStatusProcessing},
		{"insufficient funds", bankapi.PaymentResult{Success: false, TransactionID: "bank-2", Status: bankapi.StatusInsufficientFunds, Message: "Insufficient funds"}, models.TransactionStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newCardPlugin(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/card-payments" || r.Header.Get(bankapi.APIKeyHeader) != "secret" {
					http.Error(w, "unexpected request", http.StatusBadRequest)
					return
				}
				var req bankapi.CardPaymentRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req.PAN != "4111111111111111" || req.PSPTransactionID != "psp-1" || !req.Amount.Equal(decimal.RequireFromString("49.99")) {
					http.Error(w, "bad body", http.StatusBadRequest)
					return
				}
				_ = json.NewEncoder(w).Encode(tt.result)
			})

			result, err := p.ProcessPayment(context.Background(), PaymentRequest{
				Transaction: testTransaction(),
				Merchant:    &models.WebShopClient{MerchantID: "M1"},
				Data:        validCardData(),
			})
			if err != nil {
				t.Fatalf("ProcessPayment() error = %v", err)
			}
			if result.Status != tt.expected {
				t.Errorf("status = %s, expected %s", result.Status, tt.expected)
			}
			if result.ExternalTransactionID != tt.result.TransactionID {
				t.Errorf("external id = %s", result.ExternalTransactionID)
			}
			if result.Data["masked_pan"] != "************1111" || result.Data["bank_service"] != DefaultBankService {
				t.Errorf("unexpected payment data %+v", result.Data)
			}
		})
	}
}

func TestCardProcessPaymentBankDown(t *testing.T) {
	p := newCardPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	_, err := p.ProcessPayment(context.Background(), PaymentRequest{
		Transaction: testTransaction(),
		Merchant:    &models.WebShopClient{MerchantID: "M1"},
		Data:        validCardData(),
	})
	if !apperror.Is(err, apperror.KindExternalService) {
		t.Errorf("expected external service error, got %v", err)
	}
}

func TestCardGetStatus(t *testing.T) {
	orderID := bankapi.AcquirerOrderID("psp-1")
	var missing atomic.Bool
	p := newCardPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		if missing.Load() || r.URL.Path != "/api/payments/"+orderID {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(bankapi.PaymentResult{Success: true, TransactionID: orderID, Status: bankapi.StatusApproved})
	})

	tx := testTransaction()
	tx.Status = models.TransactionStatusProcessing
	status, err := p.GetStatus(context.Background(), tx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Status != models.TransactionStatusCompleted {
		t.Errorf("status = %s, expected Completed", status.Status)
	}

	missing.Store(true)
	status, err = p.GetStatus(context.Background(), tx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Status != models.TransactionStatusProcessing {
		t.Errorf("unknown bank record should keep current status, got %s", status.Status)
	}
}
