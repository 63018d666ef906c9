package tasks

import (
	"context"
	"log/slog"
	"time"

	"sep_psp/internal/models"
	"sep_psp/internal/store"
)

const (
	DefaultBatchSize  = 50
	defaultBackoff    = 30 * time.Second
	maxBackoff        = time.Hour
	historyStatusOK   = "success"
	historyStatusFail = "failure"
)

// Runner claims due tasks and executes them through the registry
type Runner struct {
	store    store.TaskStore
	registry *Registry
	batch    int
	backoff  time.Duration
	now      func() time.Time
}

func NewRunner(taskStore store.TaskStore, registry *Registry) *Runner {
	return &Runner{
		store:    taskStore,
		registry: registry,
		batch:    DefaultBatchSize,
		backoff:  defaultBackoff,
		now:      time.Now,
	}
}

// Run processes due tasks every interval until ctx is cancelled
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("task runner stopped")
			return
		}
	}
}

// RunOnce executes every task due now and returns how many ran
func (r *Runner) RunOnce(ctx context.Context) int {
	due, err := r.store.ClaimDue(ctx, r.now(), r.batch)
	if err != nil {
		slog.Error("failed to fetch pending tasks", "error", err)
		return 0
	}
	if len(due) > 0 {
		slog.Debug("found pending tasks", "count", len(due))
	}

	ran := 0
	for _, task := range due {
		if ctx.Err() != nil {
			// unclaim what we did not get to
			task.Status = models.ScheduledTaskStatusActive
			if err := r.store.Save(context.WithoutCancel(ctx), &task); err != nil {
				slog.Error("failed to release task", "task_id", task.ID, "error", err)
			}
			continue
		}
		r.execute(ctx, task)
		ran++
	}
	return ran
}

func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	startTime := r.now()
	task.LastRun = &startTime
	task.Attempts++

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		slog.Error("task handler not found", "task", task.TaskName, "task_id", task.ID)
		task.Status = models.ScheduledTaskStatusFailure
		task.LastError = "handler not found"
		r.recordHistory(ctx, task, startTime, 0, "handler_not_found", map[string]interface{}{"error": "handler not found"})
		r.save(ctx, &task)
		return
	}

	result, err := handler(ctx, task)
	runtimeMs := int(r.now().Sub(startTime).Milliseconds())

	if err != nil {
		task.LastError = err.Error()
		r.recordHistory(ctx, task, startTime, runtimeMs, historyStatusFail, map[string]interface{}{"error": err.Error()})
		if task.CanRetry() {
			task.Status = models.ScheduledTaskStatusActive
			task.Due = startTime.Add(r.backoffFor(task.Attempts))
			slog.Warn("task failed, rescheduled",
				"task", task.TaskName,
				"task_id", task.ID,
				"attempt", task.Attempts,
				"next_run", task.Due,
				"error", err)
		} else {
			task.Status = models.ScheduledTaskStatusFailure
			slog.Error("task failed, attempts exhausted",
				"task", task.TaskName,
				"task_id", task.ID,
				"attempts", task.Attempts,
				"error", err)
		}
		r.save(ctx, &task)
		return
	}

	r.recordHistory(ctx, task, startTime, runtimeMs, historyStatusOK, result)
	task.LastError = ""
	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		nextDue := task.NextDue(startTime)
		// a rule without future occurrences ends the task instead of running it again
		if nextDue.After(startTime) {
			task.Status = models.ScheduledTaskStatusActive
			task.Due = nextDue
			task.Attempts = 0
		} else {
			task.Status = models.ScheduledTaskStatusDone
		}
	default:
		task.Status = models.ScheduledTaskStatusDone
	}
	r.save(ctx, &task)
}

// backoffFor doubles the delay with every failed attempt
func (r *Runner) backoffFor(attempt int) time.Duration {
	delay := r.backoff
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func (r *Runner) recordHistory(ctx context.Context, task models.ScheduledTask, runAt time.Time, runtimeMs int, status string, result map[string]interface{}) {
	history := &models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           runAt,
		Runtime:         runtimeMs,
		Status:          status,
		AttemptNumber:   task.Attempts,
		Arguments:       task.Arguments,
		Result:          result,
	}
	if err := r.store.RecordHistory(ctx, history); err != nil {
		slog.Error("failed to record task history", "task_id", task.ID, "error", err)
	}
}

func (r *Runner) save(ctx context.Context, task *models.ScheduledTask) {
	if err := r.store.Save(context.WithoutCancel(ctx), task); err != nil {
		slog.Error("failed to update task", "task_id", task.ID, "error", err)
	}
}
