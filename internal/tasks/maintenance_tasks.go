package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sep_psp/internal/models"
)

const (
	PurgeCallbackHistoryTaskID = "purge_callback_history"

	// DefaultRetentionDays is how long callback history is kept
	DefaultRetentionDays = 90
	// DefaultPurgeRule runs the purge every night at 03:00
	DefaultPurgeRule = "FREQ=DAILY;BYHOUR=3;BYMINUTE=0;BYSECOND=0"
)

// HistoryPurger deletes callback history older than a cutoff
type HistoryPurger interface {
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

type PurgeArgs struct {
	RetentionDays int `json:"retention_days"`
}

// PurgeCallbackHistoryTaskDef enforces the callback history retention
type PurgeCallbackHistoryTaskDef struct {
	history HistoryPurger
	now     func() time.Time
}

func NewPurgeCallbackHistoryTask(history HistoryPurger) *PurgeCallbackHistoryTaskDef {
	return &PurgeCallbackHistoryTaskDef{history: history, now: time.Now}
}

// TaskID returns the unique identifier for this task
func (t *PurgeCallbackHistoryTaskDef) TaskID() string {
	return PurgeCallbackHistoryTaskID
}

// CreateTask builds a recurring task following rule, an RRULE string, starting at start
func (t *PurgeCallbackHistoryTaskDef) CreateTask(args PurgeArgs, start time.Time, rule string) (*models.ScheduledTask, error) {
	if rule == "" {
		rule = DefaultPurgeRule
	}
	probe := models.ScheduledTask{TaskType: models.ScheduledTaskTypeRecurring, Due: start, RecurringInterval: &rule}
	if next := probe.NextDue(start); !next.After(start) {
		return nil, fmt.Errorf("recurrence rule %q yields no future run", rule)
	}
	return BuildScheduledTask(t.TaskID(), args, start, &rule, models.ScheduledTaskTypeRecurring, 1)
}

// HandleExecution deletes history entries older than the retention window
func (t *PurgeCallbackHistoryTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	var args PurgeArgs
	if err := DecodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.RetentionDays <= 0 {
		args.RetentionDays = DefaultRetentionDays
	}

	cutoff := t.now().AddDate(0, 0, -args.RetentionDays)
	purged, err := t.history.PurgeBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge callback history: %w", err)
	}
	slog.Info("callback history purged", "before", cutoff.Format(time.RFC3339), "rows", purged)

	return map[string]interface{}{
		"status": "success",
		"purged": purged,
		"cutoff": cutoff.Format(time.RFC3339),
	}, nil
}
