// Package callbacks ingests status reports from processors, banks and returning buyers,
// normalizes them and merges them into the transaction ledger.
package callbacks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
	"sep_psp/internal/ledger"
	"sep_psp/internal/metrics"
	"sep_psp/internal/models"
	"sep_psp/internal/plugins"
	"sep_psp/internal/statuscodec"
	"sep_psp/internal/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of a crypto webhook body
const SignatureHeader = "X-Webhook-Signature"

// amountTolerance is the largest accepted difference between a reported and the recorded amount
var amountTolerance = decimal.New(1, -2)

// Ledger is the part of the transaction ledger the gateway writes through
type Ledger interface {
	Lookup(ctx context.Context, identifier string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, identifier string, update ledger.Update) (*ledger.UpdateResult, error)
}

type PluginResolver interface {
	Resolve(paymentType string) (plugins.Plugin, error)
}

// NotificationParser is implemented by plugins that verify their own signed server notifications
type NotificationParser interface {
	ParseNotification(body []byte) (*models.PaymentCallback, error)
}

// Outcome reports what an ingested status report did to its transaction
type Outcome struct {
	Transaction *models.Transaction
	Reported    models.TransactionStatus
	Applied     bool
}

// ReturnOutcome adds the merchant page the buyer's browser is sent to
type ReturnOutcome struct {
	Outcome
	RedirectURL string
}

type Gateway struct {
	ledger        Ledger
	plugins       PluginResolver
	history       store.CallbackHistoryStore
	webhookSecret []byte
}

func New(l Ledger, resolver PluginResolver, history store.CallbackHistoryStore, webhookSecret string) *Gateway {
	return &Gateway{
		ledger:        l,
		plugins:       resolver,
		history:       history,
		webhookSecret: []byte(webhookSecret),
	}
}

// ServerCallback applies a server to server report from a bank, the card network or another internal system
func (g *Gateway) ServerCallback(ctx context.Context, system statuscodec.System, body bankapi.ServerCallback) (*Outcome, error) {
	timestamp := body.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	callback := &models.PaymentCallback{
		PSPTransactionID:      strings.TrimSpace(body.PSPTransactionID),
		MerchantOrderID:       strings.TrimSpace(body.MerchantOrderID),
		ExternalTransactionID: body.ExternalTransactionID,
		Status:                statuscodec.Normalize(system, body.Status),
		RawStatus:             body.Status,
		StatusMessage:         body.Message,
		Amount:                body.Amount,
		Currency:              body.Currency,
		Timestamp:             timestamp,
	}
	return g.Apply(ctx, models.CallbackChannelServer, string(system), callback)
}

// BrowserReturn confirms a buyer's return with the processor through the plugin bound to the transaction,
// applies the result and picks the merchant page to redirect to.
func (g *Gateway) BrowserReturn(ctx context.Context, paymentType string, params map[string]string) (*ReturnOutcome, error) {
	identifier := params["pspTransactionId"]
	if identifier == "" {
		identifier = params["order_id"]
	}
	tx, err := g.ledger.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if tx.PaymentTypeValue() != paymentType {
		return nil, apperror.Validation("transaction was not paid with %s", paymentType)
	}
	plugin, err := g.plugins.Resolve(paymentType)
	if err != nil {
		return nil, err
	}

	if tx.Status.IsSticky() {
		// a repeated return must not capture again
		return &ReturnOutcome{Outcome: Outcome{Transaction: tx, Reported: tx.Status}, RedirectURL: RedirectURL(tx)}, nil
	}

	callback, err := plugin.ProcessCallback(ctx, plugins.CallbackInput{Transaction: tx, Params: params})
	if err != nil {
		g.record(ctx, models.CallbackChannelReturn, paymentType, tx.PSPTransactionID, "", "", false, apperror.MessageOf(err), nil)
		return nil, err
	}
	callback.PSPTransactionID = tx.PSPTransactionID

	outcome, err := g.Apply(ctx, models.CallbackChannelReturn, paymentType, callback)
	if err != nil {
		return nil, err
	}
	return &ReturnOutcome{Outcome: *outcome, RedirectURL: RedirectURL(outcome.Transaction)}, nil
}

// cryptoWebhook is the event document pushed by the crypto processor
type cryptoWebhook struct {
	Event   string `json:"event"`
	Invoice struct {
		ID            json.RawMessage  `json:"id"`
		OrderID       string           `json:"order_id"`
		Status        string           `json:"status"`
		PriceAmount   *decimal.Decimal `json:"price_amount"`
		PriceCurrency string           `json:"price_currency"`
	} `json:"invoice"`
}

// CryptoWebhook verifies the body signature before anything in it is parsed, then applies the invoice status
func (g *Gateway) CryptoWebhook(ctx context.Context, body []byte, signature string) (*Outcome, error) {
	if err := g.verify(body, signature); err != nil {
		metrics.WebhookRejections.WithLabelValues(string(statuscodec.SystemCrypto), "signature").Inc()
		slog.Warn("crypto webhook rejected", "error", err)
		return nil, err
	}

	var event cryptoWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.WebhookRejections.WithLabelValues(string(statuscodec.SystemCrypto), "body").Inc()
		return nil, apperror.Validation("invalid webhook body")
	}
	if event.Invoice.OrderID == "" {
		return nil, apperror.Validation("webhook invoice has no order id")
	}

	callback := &models.PaymentCallback{
		PSPTransactionID:      event.Invoice.OrderID,
		ExternalTransactionID: strings.Trim(string(event.Invoice.ID), `"`),
		Status:                statuscodec.Normalize(statuscodec.SystemCrypto, event.Invoice.Status),
		RawStatus:             event.Invoice.Status,
		StatusMessage:         "crypto invoice " + strings.ToLower(event.Invoice.Status),
		Amount:                event.Invoice.PriceAmount,
		Currency:              event.Invoice.PriceCurrency,
		Timestamp:             time.Now(),
		AdditionalData:        map[string]string{"event": event.Event},
	}
	return g.Apply(ctx, models.CallbackChannelWebhook, string(statuscodec.SystemCrypto), callback)
}

// Sign returns the signature a crypto webhook body must carry
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) verify(body []byte, signature string) error {
	if len(g.webhookSecret) == 0 {
		return apperror.Signature("webhook secret is not configured")
	}
	if signature == "" {
		return apperror.Signature("missing webhook signature")
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return apperror.Signature("malformed webhook signature")
	}
	mac := hmac.New(sha256.New, g.webhookSecret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return apperror.Signature("webhook signature mismatch")
	}
	return nil
}

// ProcessorNotification hands a signed server notification to the plugin that can verify it
func (g *Gateway) ProcessorNotification(ctx context.Context, paymentType string, body []byte) (*Outcome, error) {
	plugin, err := g.plugins.Resolve(paymentType)
	if err != nil {
		return nil, err
	}
	parser, ok := plugin.(NotificationParser)
	if !ok {
		return nil, apperror.NotFound("%s does not accept server notifications", paymentType)
	}
	callback, err := parser.ParseNotification(body)
	if err != nil {
		if apperror.Is(err, apperror.KindSignature) {
			metrics.WebhookRejections.WithLabelValues(paymentType, "signature").Inc()
			slog.Warn("processor notification rejected", "payment_type", paymentType, "error", err)
		}
		return nil, err
	}
	return g.Apply(ctx, models.CallbackChannelWebhook, paymentType, callback)
}

// Apply merges a normalized callback into the ledger and records it in the callback history
func (g *Gateway) Apply(ctx context.Context, channel models.CallbackChannel, source string, callback *models.PaymentCallback) (*Outcome, error) {
	identifier := callback.Identifier()
	if identifier == "" {
		return nil, apperror.Validation("callback carries no transaction identifier")
	}
	tx, err := g.ledger.Lookup(ctx, identifier)
	if err != nil {
		g.record(ctx, channel, source, identifier, callback.RawStatus, callback.Status, false, apperror.MessageOf(err), callback.AdditionalData)
		metrics.CallbacksIngested.WithLabelValues(string(channel), source, "rejected").Inc()
		return nil, err
	}

	if reason := amountMismatch(tx, callback); reason != "" {
		g.record(ctx, channel, source, tx.PSPTransactionID, callback.RawStatus, callback.Status, false, reason, callback.AdditionalData)
		metrics.CallbacksIngested.WithLabelValues(string(channel), source, "rejected").Inc()
		slog.Warn("callback amount mismatch", "psp_transaction_id", tx.PSPTransactionID, "source", source, "reason", reason)
		return nil, apperror.Validation("%s", reason)
	}

	update := ledger.Update{
		Status:                callback.Status,
		StatusMessage:         callback.StatusMessage,
		ExternalTransactionID: callback.ExternalTransactionID,
	}
	if len(callback.AdditionalData) > 0 {
		update.PaymentData = make(map[string]interface{}, len(callback.AdditionalData))
		for k, v := range callback.AdditionalData {
			if v != "" {
				update.PaymentData[k] = v
			}
		}
	}
	result, err := g.ledger.UpdateStatus(ctx, tx.PSPTransactionID, update)
	if err != nil {
		g.record(ctx, channel, source, tx.PSPTransactionID, callback.RawStatus, callback.Status, false, apperror.MessageOf(err), callback.AdditionalData)
		metrics.CallbacksIngested.WithLabelValues(string(channel), source, "rejected").Inc()
		return nil, err
	}

	outcome := "ignored"
	if result.Applied {
		outcome = "applied"
	}
	g.record(ctx, channel, source, tx.PSPTransactionID, callback.RawStatus, callback.Status, result.Applied,
		string(result.Previous)+" -> "+string(result.Transaction.Status), callback.AdditionalData)
	metrics.CallbacksIngested.WithLabelValues(string(channel), source, outcome).Inc()

	slog.Info("callback ingested",
		"channel", channel,
		"source", source,
		"psp_transaction_id", tx.PSPTransactionID,
		"raw_status", callback.RawStatus,
		"status", callback.Status,
		"applied", result.Applied)
	return &Outcome{Transaction: result.Transaction, Reported: callback.Status, Applied: result.Applied}, nil
}

func amountMismatch(tx *models.Transaction, callback *models.PaymentCallback) string {
	if callback.Currency != "" && !strings.EqualFold(callback.Currency, tx.Currency) {
		return "reported currency " + strings.ToUpper(callback.Currency) + " does not match " + tx.Currency
	}
	if callback.Amount != nil && callback.Amount.Sub(tx.Amount).Abs().GreaterThan(amountTolerance) {
		return "reported amount " + callback.Amount.StringFixed(2) + " does not match " + tx.Amount.StringFixed(2)
	}
	return ""
}

func (g *Gateway) record(ctx context.Context, channel models.CallbackChannel, source, identifier, raw string,
	normalized models.TransactionStatus, applied bool, outcome string, extra map[string]string) {
	if g.history == nil {
		return
	}
	entry := &models.PaymentCallbackHistory{
		Channel:          channel,
		Source:           source,
		Identifier:       identifier,
		RawStatus:        raw,
		NormalizedStatus: normalized,
		Applied:          applied,
		Outcome:          outcome,
	}
	if len(extra) > 0 {
		if data, err := json.Marshal(extra); err == nil {
			entry.Metadata = datatypes.JSON(data)
		}
	}
	if err := g.history.Record(ctx, entry); err != nil {
		slog.Error("failed to record callback history", "identifier", identifier, "error", err)
	}
}

// RedirectURL picks the merchant page for the buyer: the cancel page for cancelled or failed payments
// when the merchant configured one, the return page otherwise. Status details are appended as query parameters.
func RedirectURL(tx *models.Transaction) string {
	target := tx.ReturnURL
	if (tx.Status == models.TransactionStatusCancelled || tx.Status == models.TransactionStatusFailed) && tx.CancelURL != "" {
		target = tx.CancelURL
	}
	if target == "" {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("pspTransactionId", tx.PSPTransactionID)
	q.Set("merchantOrderId", tx.MerchantOrderID)
	q.Set("status", string(tx.Status))
	u.RawQuery = q.Encode()
	return u.String()
}
