package tasks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sep_psp/internal/httpclient"
	"sep_psp/internal/metrics"
	"sep_psp/internal/models"
)

const (
	MerchantCallbackTaskID     = "merchant_callback"
	SubscriptionCallbackTaskID = "subscription_callback"

	// SignatureHeader carries the hex HMAC-SHA256 of a notification body
	SignatureHeader = "X-PSP-Signature"
	// EventHeader names the notification event
	EventHeader = "X-PSP-Event"
)

// TransactionFinder loads the transaction a notification reports on
type TransactionFinder interface {
	FindByPSPID(ctx context.Context, pspTransactionID string) (*models.Transaction, error)
}

// NotificationArgs defines the arguments for a notification task
type NotificationArgs struct {
	PSPTransactionID string `json:"psp_transaction_id"`
	URL              string `json:"url"`
}

// Notification is the body posted to a merchant endpoint
type Notification struct {
	Event                 string     `json:"event"`
	PSPTransactionID      string     `json:"pspTransactionId"`
	MerchantOrderID       string     `json:"merchantOrderId"`
	Status                string     `json:"status"`
	Amount                string     `json:"amount"`
	Currency              string     `json:"currency"`
	PaymentType           string     `json:"paymentType,omitempty"`
	ExternalTransactionID string     `json:"externalTransactionId,omitempty"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	Timestamp             time.Time  `json:"timestamp"`
}

// CallbackTaskDef delivers a signed transaction notification to one merchant URL
type CallbackTaskDef struct {
	id           string
	event        string
	transactions TransactionFinder
	client       *httpclient.Client
	secret       []byte
	now          func() time.Time
}

// NewMerchantCallbackTask notifies the per-transaction callback URL
func NewMerchantCallbackTask(transactions TransactionFinder, client *httpclient.Client, secret string) *CallbackTaskDef {
	return &CallbackTaskDef{
		id:           MerchantCallbackTaskID,
		event:        "payment.completed",
		transactions: transactions,
		client:       client,
		secret:       []byte(secret),
		now:          time.Now,
	}
}

// NewSubscriptionCallbackTask notifies a merchant's subscription integration
func NewSubscriptionCallbackTask(transactions TransactionFinder, client *httpclient.Client, secret string) *CallbackTaskDef {
	def := NewMerchantCallbackTask(transactions, client, secret)
	def.id = SubscriptionCallbackTaskID
	def.event = "subscription.payment_completed"
	return def
}

// TaskID returns the unique identifier for this task
func (t *CallbackTaskDef) TaskID() string {
	return t.id
}

// CreateTask builds a ScheduledTask record for this task, due immediately
func (t *CallbackTaskDef) CreateTask(args NotificationArgs, maxAttempt int) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, t.now(), nil, models.ScheduledTaskTypeOneTime, maxAttempt)
}

// HandleExecution posts the current transaction snapshot; any failure leaves retrying to the runner
func (t *CallbackTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	var args NotificationArgs
	if err := DecodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.URL == "" || args.PSPTransactionID == "" {
		return nil, fmt.Errorf("url and psp_transaction_id are required")
	}

	tx, err := t.transactions.FindByPSPID(ctx, args.PSPTransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", args.PSPTransactionID, err)
	}

	body, err := json.Marshal(Notification{
		Event:                 t.event,
		PSPTransactionID:      tx.PSPTransactionID,
		MerchantOrderID:       tx.MerchantOrderID,
		Status:                string(tx.Status),
		Amount:                tx.Amount.StringFixed(2),
		Currency:              tx.Currency,
		PaymentType:           tx.PaymentTypeValue(),
		ExternalTransactionID: tx.ExternalTransactionID,
		CompletedAt:           tx.CompletedAt,
		Timestamp:             t.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}

	err = t.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    args.URL,
		Body:   body,
		Headers: map[string]string{
			SignatureHeader: SignPayload(t.secret, body),
			EventHeader:     t.event,
		},
	}, nil)
	if err != nil {
		metrics.NotificationDeliveries.WithLabelValues(t.id, "failure").Inc()
		slog.Warn("merchant notification failed",
			"task", t.id,
			"psp_transaction_id", tx.PSPTransactionID,
			"attempt", task.Attempts,
			"error", err)
		return nil, err
	}

	metrics.NotificationDeliveries.WithLabelValues(t.id, "success").Inc()
	slog.Info("merchant notified", "task", t.id, "psp_transaction_id", tx.PSPTransactionID, "status", tx.Status)
	return map[string]interface{}{
		"status": "delivered",
		"url":    args.URL,
		"event":  t.event,
	}, nil
}

// SignPayload returns the hex HMAC-SHA256 of body
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
