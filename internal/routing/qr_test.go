package routing

import (
	"context"
	"sync"
	"testing"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/ipsqr"
)

func qrRequest(amount string) bankapi.QRGenerateRequest {
	return bankapi.QRGenerateRequest{
		MerchantID:       merchantRef,
		PSPTransactionID: "psp-qr",
		MerchantOrderID:  "O-QR",
		Amount:           dec(amount),
		Currency:         "USD",
		PayeeName:        "Webshop",
	}
}

func TestQRGenerateAndPay(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t, "B1", buyerPAN, "100.00", []string{"4111"}, nil)

	payload, err := bank.engine.GenerateQR(ctx, qrRequest("49.99"))
	if err != nil {
		t.Fatalf("GenerateQR() error = %v", err)
	}
	decoded, err := ipsqr.Decode(payload)
	if err != nil {
		t.Fatalf("emitted payload does not decode: %v", err)
	}
	if decoded.PayeeAccount != bank.merchant.AccountNumber || decoded.Reference != "O-QR" {
		t.Errorf("unexpected payload %+v", decoded)
	}

	status, err := bank.engine.PaymentStatus(ctx, bankapi.AcquirerOrderID("psp-qr"))
	if err != nil || status.Status != bankapi.StatusInProgress {
		t.Fatalf("status before payment = %+v, %v", status, err)
	}

	result, err := bank.engine.PayQR(ctx, bankapi.QRPayRequest{Payload: payload, PayerAccountNumber: "160-0000000000000-76"})
	if err != nil {
		t.Fatalf("PayQR() error = %v", err)
	}
	if !result.Success || result.Payment.PSPTransactionID != "psp-qr" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := bank.accounts.Balance(bank.buyer.ID); !got.Equal(dec("50.01")) {
		t.Errorf("payer balance = %s, expected 50.01", got)
	}
	if got := bank.accounts.Balance(bank.merchant.ID); !got.Equal(dec("49.99")) {
		t.Errorf("merchant balance = %s, expected 49.99", got)
	}

	if _, err := bank.engine.PayQR(ctx, bankapi.QRPayRequest{Payload: payload, PayerAccountNumber: "160000000000000076"}); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("paying a settled code again: expected not found, got %v", err)
	}
	if _, err := bank.engine.GenerateQR(ctx, qrRequest("49.99")); !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("regenerating a settled code: expected conflict, got %v", err)
	}

	if _, err := bank.engine.Refund(ctx, bankapi.AcquirerOrderID("psp-qr"), dec("49.99")); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if got := bank.accounts.Balance(bank.buyer.ID); !got.Equal(dec("100.00")) {
		t.Errorf("payer balance after refund = %s", got)
	}
}

func TestQRPayInsufficientFundsKeepsCodeOpen(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t, "B1", buyerPAN, "10.00", []string{"4111"}, nil)

	payload, err := bank.engine.GenerateQR(ctx, qrRequest("49.99"))
	if err != nil {
		t.Fatal(err)
	}
	result, err := bank.engine.PayQR(ctx, bankapi.QRPayRequest{Payload: payload, PayerAccountNumber: "160000000000000076"})
	if err != nil {
		t.Fatalf("PayQR() error = %v", err)
	}
	if result.Success || result.Status != bankapi.StatusInsufficientFunds {
		t.Errorf("unexpected result %+v", result)
	}
	status, _ := bank.engine.PaymentStatus(ctx, bankapi.AcquirerOrderID("psp-qr"))
	if status.Status != bankapi.StatusInProgress {
		t.Errorf("code should stay open, status %s", status.Status)
	}
}

func TestQRPayRejectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t, "B1", buyerPAN, "100.00", []string{"4111"}, nil)
	if _, err := bank.engine.GenerateQR(ctx, qrRequest("49.99")); err != nil {
		t.Fatal(err)
	}

	tampered, err := ipsqr.Encode(ipsqr.Payment{
		Amount:       dec("1.00"),
		Currency:     "USD",
		PayeeAccount: bank.merchant.AccountNumber,
		PayeeName:    "Webshop",
		Reference:    "O-QR",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bank.engine.PayQR(ctx, bankapi.QRPayRequest{Payload: tampered, PayerAccountNumber: "160000000000000076"}); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := bank.engine.PayQR(ctx, bankapi.QRPayRequest{Payload: "K:PR|garbage", PayerAccountNumber: "160000000000000076"}); !apperror.Is(err, apperror.KindIntegrity) {
		t.Errorf("expected integrity error, got %v", err)
	}
}

func TestConcurrentQRPaymentsDebitOnce(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t, "B1", buyerPAN, "100.00", []string{"4111"}, nil)

	payload, err := bank.engine.GenerateQR(ctx, qrRequest("40.00"))
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(Config{BankID: "B1", BINPrefixes: []string{"4111"}}, bank.accounts, newLockstepPayments(bank.payments, 2), nil)

	var mu sync.Mutex
	paid := 0
	errs := inParallel(func() error {
		result, err := engine.PayQR(ctx, bankapi.QRPayRequest{Payload: payload, PayerAccountNumber: "160000000000000076"})
		if err == nil && result.Success {
			mu.Lock()
			paid++
			mu.Unlock()
		}
		return err
	})
	for _, err := range errs {
		if err != nil && !apperror.Is(err, apperror.KindConflict) {
			t.Errorf("unexpected PayQR error %v", err)
		}
	}

	if paid != 1 {
		t.Errorf("settled %d times, expected once", paid)
	}
	if got := bank.accounts.Balance(bank.buyer.ID); !got.Equal(dec("60.00")) {
		t.Errorf("payer balance = %s, expected 60.00", got)
	}
	if got := bank.accounts.Balance(bank.merchant.ID); !got.Equal(dec("40.00")) {
		t.Errorf("merchant balance = %s, expected 40.00", got)
	}
}
