package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sep_psp/internal/httpclient"
	"sep_psp/internal/models"
	"sep_psp/internal/services"
	"sep_psp/internal/store"
	"sep_psp/internal/tasks"
)

var (
	taskName       string
	taskArguments  string
	taskDue        string
	taskType       string
	taskRecurring  string
	taskMaxAttempt int

	purgeRetentionDays int
	purgeRule          string
	purgeStart         string

	resendMaxAttempt int
)

var scheduleTaskCmd = &cobra.Command{
	Use:   "schedule-task",
	Short: "Enqueue an arbitrary scheduled task",
	Long: `Enqueue a task by name with JSON arguments.

Examples:
  pspctl schedule-task --task-name merchant_callback \
    --arguments '{"psp_transaction_id":"...","url":"https://shop/cb"}' --due "2026-01-02 15:04"
  pspctl schedule-task --task-name purge_callback_history --arguments '{"retention_days":30}' \
    --due now --tasktype recurring --recurring "FREQ=WEEKLY"`,
	RunE: runScheduleTask,
}

var schedulePurgeCmd = &cobra.Command{
	Use:   "schedule-purge",
	Short: "Schedule the recurring callback history purge",
	RunE:  runSchedulePurge,
}

var resendCmd = &cobra.Command{
	Use:   "resend <psp-transaction-id>",
	Short: "Queue the merchant notification of a transaction again",
	Args:  cobra.ExactArgs(1),
	RunE:  runResend,
}

func init() {
	scheduleTaskCmd.Flags().StringVar(&taskName, "task-name", "", "name of the task (required)")
	scheduleTaskCmd.Flags().StringVar(&taskArguments, "arguments", "{}", "JSON arguments for the task")
	scheduleTaskCmd.Flags().StringVar(&taskDue, "due", "now", "due time: now, RFC3339 or 2006-01-02 15:04 (local)")
	scheduleTaskCmd.Flags().StringVar(&taskType, "tasktype", string(models.ScheduledTaskTypeOneTime), "onetime or recurring")
	scheduleTaskCmd.Flags().StringVar(&taskRecurring, "recurring", "", "RRULE for recurring tasks")
	scheduleTaskCmd.Flags().IntVar(&taskMaxAttempt, "max-attempt", 3, "maximum attempts")
	_ = scheduleTaskCmd.MarkFlagRequired("task-name")

	schedulePurgeCmd.Flags().IntVar(&purgeRetentionDays, "retention-days", tasks.DefaultRetentionDays, "days of callback history to keep")
	schedulePurgeCmd.Flags().StringVar(&purgeRule, "rule", tasks.DefaultPurgeRule, "RRULE of the purge schedule")
	schedulePurgeCmd.Flags().StringVar(&purgeStart, "start", "now", "first run: now, RFC3339 or 2006-01-02 15:04 (local)")

	resendCmd.Flags().IntVar(&resendMaxAttempt, "max-attempt", 0, "maximum attempts, defaults to NOTIFICATION_MAX_ATTEMPT")
}

// parseDue accepts "now", RFC3339 or a local "2006-01-02 15:04"
func parseDue(value string) (time.Time, error) {
	if value == "" || value == "now" {
		return time.Now(), nil
	}
	if due, err := time.Parse(time.RFC3339, value); err == nil {
		return due, nil
	}
	due, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, use RFC3339 or 2006-01-02 15:04", value)
	}
	return due, nil
}

// defineTasks builds the task registry against the opened stores
func defineTasks(stores *services.Stores, secret string) (*tasks.Registry, *tasks.Definitions) {
	registry := tasks.NewRegistry()
	defs := tasks.DefineTasks(registry, tasks.Dependencies{
		Transactions:  stores.Transactions,
		History:       stores.History,
		Client:        httpclient.New(15 * time.Second),
		SigningSecret: secret,
	})
	return registry, defs
}

func runScheduleTask(cmd *cobra.Command, args []string) error {
	cfg, stores, err := openDatabase()
	if err != nil {
		return err
	}
	registry, _ := defineTasks(stores, cfg.NotificationSigningSecret)
	if _, ok := registry.Get(taskName); !ok {
		return fmt.Errorf("unknown task %q, available: %v", taskName, registry.Names())
	}

	var arguments map[string]interface{}
	if err := json.Unmarshal([]byte(taskArguments), &arguments); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}
	due, err := parseDue(taskDue)
	if err != nil {
		return err
	}

	var recurring *string
	kind := models.ScheduledTaskType(taskType)
	switch kind {
	case models.ScheduledTaskTypeOneTime:
	case models.ScheduledTaskTypeRecurring:
		if taskRecurring == "" {
			return errors.New("--recurring is required for recurring tasks")
		}
		recurring = &taskRecurring
	default:
		return fmt.Errorf("unknown task type %q", taskType)
	}

	task, err := tasks.BuildScheduledTask(taskName, arguments, due, recurring, kind, taskMaxAttempt)
	if err != nil {
		return err
	}
	if err := stores.Tasks.Enqueue(cmd.Context(), task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	printTask(task)
	return nil
}

func runSchedulePurge(cmd *cobra.Command, args []string) error {
	cfg, stores, err := openDatabase()
	if err != nil {
		return err
	}
	_, defs := defineTasks(stores, cfg.NotificationSigningSecret)

	start, err := parseDue(purgeStart)
	if err != nil {
		return err
	}
	task, err := defs.PurgeCallbackHistory.CreateTask(tasks.PurgeArgs{RetentionDays: purgeRetentionDays}, start, purgeRule)
	if err != nil {
		return err
	}
	if err := stores.Tasks.Enqueue(cmd.Context(), task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	printTask(task)
	return nil
}

func runResend(cmd *cobra.Command, args []string) error {
	cfg, stores, err := openDatabase()
	if err != nil {
		return err
	}
	_, defs := defineTasks(stores, cfg.NotificationSigningSecret)

	tx, err := stores.Transactions.FindByPSPID(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("transaction %s not found", args[0])
	}
	if err != nil {
		return err
	}
	if tx.CallbackURL == "" {
		return fmt.Errorf("transaction %s has no callback URL", tx.PSPTransactionID)
	}
	if !tx.Status.IsSticky() {
		return fmt.Errorf("transaction %s is %s, only settled transactions are notified", tx.PSPTransactionID, tx.Status)
	}

	attempts := resendMaxAttempt
	if attempts <= 0 {
		attempts = cfg.NotificationMaxAttempt
	}
	task, err := defs.MerchantCallback.CreateTask(tasks.NotificationArgs{
		PSPTransactionID: tx.PSPTransactionID,
		URL:              tx.CallbackURL,
	}, attempts)
	if err != nil {
		return err
	}
	if err := stores.Tasks.Enqueue(cmd.Context(), task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	printTask(task)
	return nil
}

func printTask(task *models.ScheduledTask) {
	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due.Format(time.RFC3339), task.TaskType)
}
