package services

import (
	"context"
	"fmt"
	"log/slog"

	"sep_psp/internal/models"
	"sep_psp/internal/store"
	"sep_psp/internal/tasks"
)

// Notifier turns completed transactions into outbound notification tasks.
// It runs after the status write is committed and only enqueues; delivery and retries belong to the task runner.
type Notifier struct {
	tasks        store.TaskStore
	merchants    store.MerchantStore
	merchantTask *tasks.CallbackTaskDef
	subscription *tasks.CallbackTaskDef
	maxAttempt   int
}

func NewNotifier(taskStore store.TaskStore, merchants store.MerchantStore, merchantTask, subscriptionTask *tasks.CallbackTaskDef, maxAttempt int) *Notifier {
	if maxAttempt <= 0 {
		maxAttempt = tasks.DefaultMaxAttempt
	}
	return &Notifier{
		tasks:        taskStore,
		merchants:    merchants,
		merchantTask: merchantTask,
		subscription: subscriptionTask,
		maxAttempt:   maxAttempt,
	}
}

// TransactionCompleted enqueues the merchant callback and, when configured, the subscription callback
func (n *Notifier) TransactionCompleted(ctx context.Context, tx *models.Transaction) error {
	if tx.CallbackURL != "" {
		if err := n.enqueue(ctx, n.merchantTask, tx, tx.CallbackURL); err != nil {
			return err
		}
	}

	merchant, err := n.merchants.FindByID(ctx, tx.MerchantID)
	if err != nil {
		return fmt.Errorf("failed to load merchant for notification: %w", err)
	}
	if merchant.SubscriptionCallbackURL != "" {
		return n.enqueue(ctx, n.subscription, tx, merchant.SubscriptionCallbackURL)
	}
	return nil
}

func (n *Notifier) enqueue(ctx context.Context, def *tasks.CallbackTaskDef, tx *models.Transaction, url string) error {
	task, err := def.CreateTask(tasks.NotificationArgs{PSPTransactionID: tx.PSPTransactionID, URL: url}, n.maxAttempt)
	if err != nil {
		return err
	}
	if err := n.tasks.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", def.TaskID(), err)
	}
	slog.Info("notification scheduled", "task", def.TaskID(), "psp_transaction_id", tx.PSPTransactionID)
	return nil
}
