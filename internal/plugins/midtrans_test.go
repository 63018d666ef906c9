package plugins

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/models"
)

type fakeMidtrans struct {
	charge   MidtransCharge
	status   MidtransStatus
	refunded int64
}

func (f *fakeMidtrans) CreateTransaction(_ context.Context, charge MidtransCharge) (string, string, error) {
	f.charge = charge
	return "snap-token", "https://app.sandbox.midtrans.com/snap/v2/vtweb/snap-token", nil
}

func (f *fakeMidtrans) CheckTransaction(_ context.Context, orderID string) (*MidtransStatus, error) {
	status := f.status
	status.OrderID = orderID
	return &status, nil
}

func (f *fakeMidtrans) RefundTransaction(_ context.Context, orderID string, amount int64, reason string) (string, error) {
	f.refunded = amount
	return orderID + "-refund", nil
}

func idrTransaction() *models.Transaction {
	tx := testTransaction()
	tx.Amount = decimal.RequireFromString("150000")
	tx.Currency = "IDR"
	return tx
}

func TestMidtransProcessPayment(t *testing.T) {
	gateway := &fakeMidtrans{}
	p := NewMidtransPlugin(gateway, "server-key")

	result, err := p.ProcessPayment(context.Background(), PaymentRequest{Transaction: idrTransaction(), ReturnURL: "https://psp.test/return"})
	if err != nil {
		t.Fatalf("ProcessPayment() error = %v", err)
	}
	if gateway.charge.OrderID != "psp-1" || gateway.charge.GrossAmount != 150000 || gateway.charge.FinishURL != "https://psp.test/return" {
		t.Errorf("unexpected charge %+v", gateway.charge)
	}
	if result.RedirectURL == "" || result.Data["snap_token"] != "snap-token" {
		t.Errorf("unexpected result %+v", result)
	}

	if _, err := p.ProcessPayment(context.Background(), PaymentRequest{Transaction: testTransaction()}); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error for USD, got %v", err)
	}
}

func TestMidtransStatusAndRefund(t *testing.T) {
	gateway := &fakeMidtrans{status: MidtransStatus{TransactionID: "mt-1", TransactionStatus: "capture", FraudStatus: "challenge"}}
	p := NewMidtransPlugin(gateway, "server-key")
	tx := idrTransaction()

	status, err := p.GetStatus(context.Background(), tx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Status != models.TransactionStatusProcessing {
		t.Errorf("challenged capture = %s, expected Processing", status.Status)
	}

	refund, err := p.Refund(context.Background(), tx, decimal.RequireFromString("150000.40"))
	if err != nil || !refund.Success {
		t.Fatalf("Refund() = %+v, %v", refund, err)
	}
	if gateway.refunded != 150000 {
		t.Errorf("refunded %d, expected 150000", gateway.refunded)
	}
}

func TestMidtransParseNotification(t *testing.T) {
	p := NewMidtransPlugin(&fakeMidtrans{}, "server-key")
	p.now = func() time.Time { return testNow }

	n := MidtransNotification{
		OrderID:           "psp-1",
		TransactionID:     "mt-1",
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "150000.00",
		PaymentType:       "bank_transfer",
	}
	n.SignatureKey = NotificationSignature(n.OrderID, n.StatusCode, n.GrossAmount, "server-key")
	body, _ := json.Marshal(n)

	callback, err := p.ParseNotification(body)
	if err != nil {
		t.Fatalf("ParseNotification() error = %v", err)
	}
	if callback.Status != models.TransactionStatusCompleted || callback.Currency != "IDR" {
		t.Errorf("unexpected callback %+v", callback)
	}
	if callback.Amount == nil || !callback.Amount.Equal(decimal.RequireFromString("150000")) {
		t.Errorf("amount = %v", callback.Amount)
	}

	n.GrossAmount = "1.00"
	tampered, _ := json.Marshal(n)
	if _, err := p.ParseNotification(tampered); !apperror.Is(err, apperror.KindSignature) {
		t.Errorf("expected signature error, got %v", err)
	}
}
