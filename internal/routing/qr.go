package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/ipsqr"
	"sep_psp/internal/models"
	"sep_psp/internal/store"
)

// GenerateQR emits a payment code for a merchant of this bank and opens a QR payment awaiting the payer
func (e *Engine) GenerateQR(ctx context.Context, req bankapi.QRGenerateRequest) (string, error) {
	merchantAccount, err := e.accounts.GetByMerchant(ctx, req.MerchantID)
	if err != nil {
		return "", apperror.NotFound("merchant %s has no account at this bank", req.MerchantID)
	}
	name := req.PayeeName
	if name == "" {
		name = merchantAccount.HolderName
	}

	payload, err := ipsqr.Encode(ipsqr.Payment{
		Amount:       req.Amount,
		Currency:     strings.ToUpper(req.Currency),
		PayeeAccount: merchantAccount.AccountNumber,
		PayeeName:    name,
		Reference:    req.MerchantOrderID,
	})
	if err != nil {
		return "", err
	}

	payment := &models.BankPayment{
		BankID:            e.cfg.BankID,
		Role:              models.BankPaymentRoleAcquirer,
		AcquirerOrderID:   bankapi.AcquirerOrderID(req.PSPTransactionID),
		AcquirerTimestamp: e.now(),
		PSPTransactionID:  req.PSPTransactionID,
		MerchantOrderID:   req.MerchantOrderID,
		MerchantAccountID: &merchantAccount.ID,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(req.Currency),
		Route:             models.BankPaymentRouteQR,
		Status:            models.BankPaymentStatusProcessing,
	}
	existing, err := e.reserve(ctx, payment)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Status != bankapi.StatusInProgress {
		return "", apperror.Conflict("QR payment for order %s is already settled", req.MerchantOrderID)
	}
	return payload, nil
}

// PayQR settles a scanned code by debiting the payer and crediting the merchant named in the payload
func (e *Engine) PayQR(ctx context.Context, req bankapi.QRPayRequest) (*Result, error) {
	payload, err := ipsqr.Decode(req.Payload)
	if err != nil {
		return nil, err
	}
	if payload.Reference == "" {
		return nil, apperror.Integrity("QR payload carries no order reference")
	}

	merchantAccount, err := e.accounts.GetByAccountNumber(ctx, payload.PayeeAccount)
	if err != nil || merchantAccount.MerchantID == nil {
		return nil, apperror.NotFound("payee account is not a merchant of this bank")
	}
	payment, err := e.payments.FindOpen(ctx, e.cfg.BankID, models.BankPaymentRouteQR, payload.Reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("no open QR payment for order %s", payload.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load QR payment: %w", err)
	}
	if ok, reason := payload.Matches(payment.Amount, payment.Currency); !ok {
		return nil, apperror.Validation("QR code does not match the payment: %s", reason)
	}

	payerNumber, err := ipsqr.NormalizeAccount(req.PayerAccountNumber)
	if err != nil {
		return nil, err
	}
	payer, err := e.accounts.GetByAccountNumber(ctx, payerNumber)
	if err != nil {
		return nil, apperror.NotFound("payer account not found")
	}
	if payer.ID == merchantAccount.ID {
		return nil, apperror.Validation("payer and payee accounts must differ")
	}
	if !strings.EqualFold(payer.Currency, payment.Currency) {
		return nil, apperror.Validation("payer account currency %s does not match %s", payer.Currency, payment.Currency)
	}

	if err := e.claim(ctx, payment, models.BankPaymentStatusProcessing, models.BankPaymentStatusSettling); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			return nil, apperror.Conflict("QR payment for order %s is already being paid", payload.Reference)
		}
		return nil, fmt.Errorf("failed to claim QR payment: %w", err)
	}
	if err := e.debit(ctx, payer, payment.Amount); err != nil {
		e.release(ctx, payment, models.BankPaymentStatusProcessing)
		if apperror.Is(err, apperror.KindInsufficientFunds) {
			// the code stays open so the payer can retry from another account
			return &Result{Success: false, TransactionID: payment.AcquirerOrderID, Status: bankapi.StatusInsufficientFunds, Message: apperror.MessageOf(err)}, nil
		}
		return nil, err
	}
	payment.AccountID = &payer.ID
	if err := e.credit(ctx, merchantAccount, payment.Amount); err != nil {
		e.compensate(ctx, payment)
		return nil, e.fail(ctx, payment, bankapi.StatusError, err)
	}

	now := e.now()
	payment.IssuerOrderID = payment.AcquirerOrderID
	payment.IssuerBankID = e.cfg.BankID
	payment.IssuerTimestamp = &now
	payment.Status = models.BankPaymentStatusCompleted
	payment.StatusMessage = "approved"
	if err := e.payments.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save QR payment: %w", err)
	}

	slog.Info("QR payment settled", "bank_id", e.cfg.BankID, "merchant_order_id", payment.MerchantOrderID, "amount", payment.Amount.StringFixed(2))
	return resultOf(payment), nil
}
