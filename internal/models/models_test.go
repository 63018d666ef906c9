package models

import (
	"testing"
	"time"
)

func TestTransactionStatusIsSticky(t *testing.T) {
	tests := []struct {
		status   TransactionStatus
		expected bool
	}{
		{TransactionStatusPending, false},
		{TransactionStatusProcessing, false},
		{TransactionStatusCompleted, true},
		{TransactionStatusFailed, true},
		{TransactionStatusCancelled, true},
		{TransactionStatusRefunded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsSticky(); got != tt.expected {
				t.Errorf("IsSticky() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestCardExpired(t *testing.T) {
	card := Card{ExpiryMonth: 3, ExpiryYear: 2027}

	tests := []struct {
		name     string
		now      time.Time
		expected bool
	}{
		{"before expiry month", time.Date(2027, 2, 15, 0, 0, 0, 0, time.UTC), false},
		{"last day of expiry month", time.Date(2027, 3, 31, 23, 59, 0, 0, time.UTC), false},
		{"first day after", time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := card.Expired(tt.now); got != tt.expected {
				t.Errorf("Expired() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestWebShopClientCheckSecret(t *testing.T) {
	client := WebShopClient{MerchantSecretHash: HashSecret("s3cret")}
	if !client.CheckSecret("s3cret") {
		t.Error("expected matching secret to pass")
	}
	if client.CheckSecret("S3cret") {
		t.Error("expected different secret to fail")
	}
}

func TestScheduledTaskNextDue(t *testing.T) {
	due := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	rule := "FREQ=DAILY;INTERVAL=1"

	recurring := ScheduledTask{Due: due, TaskType: ScheduledTaskTypeRecurring, RecurringInterval: &rule}
	next := recurring.NextDue(due)
	if !next.Equal(due.Add(24 * time.Hour)) {
		t.Errorf("expected next run one day later, got %s", next)
	}

	oneTime := ScheduledTask{Due: due, TaskType: ScheduledTaskTypeOneTime}
	if !oneTime.NextDue(due.Add(time.Hour)).Equal(due) {
		t.Error("one-time task must keep its due date")
	}

	bad := "not a rule"
	broken := ScheduledTask{Due: due, TaskType: ScheduledTaskTypeRecurring, RecurringInterval: &bad}
	if !broken.NextDue(due).Equal(due) {
		t.Error("unparseable rule must fall back to due date")
	}
}

func TestScheduledTaskCanRetry(t *testing.T) {
	task := ScheduledTask{MaxAttempt: 3, Attempts: 2}
	if !task.CanRetry() {
		t.Error("expected retry after second attempt")
	}
	task.Attempts = 3
	if task.CanRetry() {
		t.Error("expected no retry after last attempt")
	}
}
