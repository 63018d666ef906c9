package handlers

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/models"
	"sep_psp/internal/routing"
)

// qrImageSize is the edge length of rendered QR codes in pixels
const qrImageSize = 256

// PSPNotifier reports settled bank payments back to the PSP
type PSPNotifier interface {
	Notify(ctx context.Context, cb bankapi.ServerCallback) error
}

// BankHandler exposes one bank: acquirer card payments, issuer authorization, QR payments and refunds
type BankHandler struct {
	engine   *routing.Engine
	notifier PSPNotifier
	// spawn runs the PSP notification after the response is written
	spawn func(func())
	now   func() time.Time
}

func NewBankHandler(engine *routing.Engine, notifier PSPNotifier) *BankHandler {
	return &BankHandler{
		engine:   engine,
		notifier: notifier,
		spawn:    func(f func()) { go f() },
		now:      time.Now,
	}
}

// notifySettled tells the PSP about a payment that reached a final bank status
func (h *BankHandler) notifySettled(ctx context.Context, result *routing.Result) {
	if h.notifier == nil || result == nil || result.Payment == nil || result.Payment.Status == models.BankPaymentStatusProcessing {
		return
	}
	cb := routing.CallbackFor(result, h.now())
	ctx = context.WithoutCancel(ctx)
	h.spawn(func() {
		if err := h.notifier.Notify(ctx, cb); err != nil {
			slog.Warn("psp was not notified", "psp_transaction_id", cb.PSPTransactionID, "error", err)
		}
	})
}

// CardPayment settles a card payment as the acquirer, same-bank or through the card network
func (h *BankHandler) CardPayment(c echo.Context) error {
	var req bankapi.CardPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.engine.ProcessCardPayment(c.Request().Context(), req)
	if err != nil {
		return err
	}
	h.notifySettled(c.Request().Context(), result)
	return c.JSON(http.StatusOK, result.API())
}

// PaymentStatus returns the acquirer record for an order id
func (h *BankHandler) PaymentStatus(c echo.Context) error {
	result, err := h.engine.PaymentStatus(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result.API())
}

// Refund reverses an acquirer payment
func (h *BankHandler) Refund(c echo.Context) error {
	var req bankapi.RefundRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.engine.Refund(c.Request().Context(), c.Param("orderId"), req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result.API())
}

// IssuerAuthorize is called by the card network for cards issued by this bank
func (h *BankHandler) IssuerAuthorize(c echo.Context) error {
	var req bankapi.NetworkRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	resp, err := h.engine.Authorize(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *BankHandler) IssuerRefund(c echo.Context) error {
	var req bankapi.NetworkRefundRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.engine.IssuerRefund(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result.API())
}

// GenerateQR emits a payment code for a merchant and renders it as a PNG
func (h *BankHandler) GenerateQR(c echo.Context) error {
	var req bankapi.QRGenerateRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	payload, err := h.engine.GenerateQR(c.Request().Context(), req)
	if err != nil {
		return err
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "failed to render QR code")
	}
	return c.JSON(http.StatusOK, bankapi.QRGenerateResponse{
		Payload:     payload,
		ImageBase64: base64.StdEncoding.EncodeToString(png),
	})
}

// PayQR settles a scanned code from the payer's account
func (h *BankHandler) PayQR(c echo.Context) error {
	var req bankapi.QRPayRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.engine.PayQR(c.Request().Context(), req)
	if err != nil {
		return err
	}
	h.notifySettled(c.Request().Context(), result)
	return c.JSON(http.StatusOK, result.API())
}
