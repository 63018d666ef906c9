package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"sep_psp/internal/apperror"
	"sep_psp/internal/ledger"
	"sep_psp/internal/models"
	"sep_psp/internal/services"
)

// PaymentHandler serves the merchant API and the buyer's payment page calls
type PaymentHandler struct {
	service *services.PaymentService
}

func NewPaymentHandler(service *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

type CreatePaymentRequest struct {
	MerchantID        string          `json:"merchant_id"`
	MerchantSecret    string          `json:"merchant_secret"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	MerchantOrderID   string          `json:"merchant_order_id"`
	MerchantTimestamp time.Time       `json:"merchant_timestamp"`
	ReturnURL         string          `json:"return_url"`
	CancelURL         string          `json:"cancel_url"`
	CallbackURL       string          `json:"callback_url"`
	CustomerName      string          `json:"customer_name"`
	CustomerEmail     string          `json:"customer_email"`
}

// TransactionView is the public projection of a transaction
type TransactionView struct {
	PSPTransactionID      string                   `json:"psp_transaction_id"`
	MerchantOrderID       string                   `json:"merchant_order_id"`
	Amount                decimal.Decimal          `json:"amount"`
	Currency              string                   `json:"currency"`
	Status                models.TransactionStatus `json:"status"`
	StatusMessage         string                   `json:"status_message,omitempty"`
	PaymentType           string                   `json:"payment_type,omitempty"`
	ExternalTransactionID string                   `json:"external_transaction_id,omitempty"`
	CreatedAt             time.Time                `json:"created_at"`
	CompletedAt           *time.Time               `json:"completed_at,omitempty"`
}

func viewOf(tx *models.Transaction) TransactionView {
	return TransactionView{
		PSPTransactionID:      tx.PSPTransactionID,
		MerchantOrderID:       tx.MerchantOrderID,
		Amount:                tx.Amount,
		Currency:              tx.Currency,
		Status:                tx.Status,
		StatusMessage:         tx.StatusMessage,
		PaymentType:           tx.PaymentTypeValue(),
		ExternalTransactionID: tx.ExternalTransactionID,
		CreatedAt:             tx.CreatedAt,
		CompletedAt:           tx.CompletedAt,
	}
}

// CreatePayment registers a new Pending payment for an authenticated merchant
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req CreatePaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.service.CreatePayment(c.Request().Context(), ledger.CreateRequest{
		Credentials:       ledger.Credentials{MerchantID: req.MerchantID, MerchantSecret: req.MerchantSecret},
		Amount:            req.Amount,
		Currency:          req.Currency,
		MerchantOrderID:   req.MerchantOrderID,
		MerchantTimestamp: req.MerchantTimestamp,
		ReturnURL:         req.ReturnURL,
		CancelURL:         req.CancelURL,
		CallbackURL:       req.CallbackURL,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
	})
	if err != nil {
		return err
	}

	return respond(c, http.StatusCreated, "payment created", map[string]interface{}{
		"transaction": viewOf(result.Transaction),
		"payment_url": result.PaymentURL,
	})
}

// GetStatus accepts a pspTransactionId or a merchantOrderId
func (h *PaymentHandler) GetStatus(c echo.Context) error {
	tx, err := h.service.GetStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "payment status", viewOf(tx))
}

// GetMethods lists the methods the buyer can choose from
func (h *PaymentHandler) GetMethods(c echo.Context) error {
	methods, err := h.service.GetAvailableMethods(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "available payment methods", methods)
}

type ProcessPaymentRequest struct {
	PaymentType string                 `json:"payment_type"`
	Data        map[string]interface{} `json:"data"`
}

// ProcessPayment starts the payment with the selected method
func (h *PaymentHandler) ProcessPayment(c echo.Context) error {
	var req ProcessPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.PaymentType == "" {
		return apperror.Validation("payment_type is required")
	}

	result, err := h.service.ProcessPayment(c.Request().Context(), c.Param("id"), req.PaymentType, req.Data)
	if err != nil {
		return err
	}

	message := result.Message
	if message == "" {
		message = "payment processing started"
	}
	return respond(c, http.StatusOK, message, map[string]interface{}{
		"transaction":  viewOf(result.Transaction),
		"redirect_url": result.RedirectURL,
		"details":      result.Data,
	})
}

type RefundRequest struct {
	MerchantID     string          `json:"merchant_id"`
	MerchantSecret string          `json:"merchant_secret"`
	Amount         decimal.Decimal `json:"amount"`
}

func (h *PaymentHandler) Refund(c echo.Context) error {
	var req RefundRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.service.Refund(c.Request().Context(),
		ledger.Credentials{MerchantID: req.MerchantID, MerchantSecret: req.MerchantSecret},
		c.Param("id"), req.Amount)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, result.Message, map[string]interface{}{
		"transaction": viewOf(result.Transaction),
		"refund_id":   result.RefundID,
	})
}

type ValidateQRRequest struct {
	Payload          string          `json:"payload"`
	PSPTransactionID string          `json:"psp_transaction_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

// ValidateQR checks a QR payload against a transaction or an explicit amount and currency
func (h *PaymentHandler) ValidateQR(c echo.Context) error {
	var req ValidateQRRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.service.ValidateQR(c.Request().Context(), services.QRValidation{
		Payload:          req.Payload,
		PSPTransactionID: req.PSPTransactionID,
		Amount:           req.Amount,
		Currency:         req.Currency,
	})
	if err != nil {
		return err
	}

	message := "QR code is valid"
	if !result.Valid {
		message = result.Reason
	}
	return respond(c, http.StatusOK, message, result)
}
