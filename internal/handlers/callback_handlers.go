package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/callbacks"
	"sep_psp/internal/plugins"
	"sep_psp/internal/statuscodec"
)

// maxWebhookBody bounds the raw bodies read for signature verification
const maxWebhookBody = 1 << 20

// CallbackHandler is the ingress for processor reports, browser returns and webhooks
type CallbackHandler struct {
	gateway *callbacks.Gateway
}

func NewCallbackHandler(gateway *callbacks.Gateway) *CallbackHandler {
	return &CallbackHandler{gateway: gateway}
}

func outcomeData(outcome *callbacks.Outcome) map[string]interface{} {
	return map[string]interface{}{
		"psp_transaction_id": outcome.Transaction.PSPTransactionID,
		"status":             outcome.Transaction.Status,
		"reported":           outcome.Reported,
		"applied":            outcome.Applied,
	}
}

// ServerCallback accepts a status report from a bank, the card network or another internal system
func (h *CallbackHandler) ServerCallback(c echo.Context) error {
	var body bankapi.ServerCallback
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.PSPTransactionID == "" && body.MerchantOrderID == "" {
		return apperror.Validation("psp_transaction_id or merchant_order_id is required")
	}

	outcome, err := h.gateway.ServerCallback(c.Request().Context(), statuscodec.ParseSystem(c.Param("system")), body)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "callback processed", outcomeData(outcome))
}

// BrowserReturn confirms the payment with the processor and redirects the buyer to the merchant
func (h *CallbackHandler) BrowserReturn(c echo.Context) error {
	params := make(map[string]string)
	for key, values := range c.QueryParams() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	outcome, err := h.gateway.BrowserReturn(c.Request().Context(), c.Param("type"), params)
	if err != nil {
		return err
	}
	if outcome.RedirectURL != "" {
		return c.Redirect(http.StatusSeeOther, outcome.RedirectURL)
	}
	return respond(c, http.StatusOK, "payment "+string(outcome.Transaction.Status), outcomeData(&outcome.Outcome))
}

// CryptoWebhook verifies and applies an invoice event; any failure answers non-2xx so the processor redelivers
func (h *CallbackHandler) CryptoWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return apperror.Validation("failed to read webhook body")
	}

	outcome, err := h.gateway.CryptoWebhook(c.Request().Context(), body, c.Request().Header.Get(callbacks.SignatureHeader))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "webhook processed", outcomeData(outcome))
}

// MidtransNotification applies a Midtrans HTTP notification after the plugin verified its signature key
func (h *CallbackHandler) MidtransNotification(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return apperror.Validation("failed to read notification body")
	}

	outcome, err := h.gateway.ProcessorNotification(c.Request().Context(), plugins.TypeMidtrans, body)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "notification processed", outcomeData(outcome))
}
