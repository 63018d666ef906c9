package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"sep_psp/internal/models"
	"sep_psp/internal/store"
)

// TaskStore keeps scheduled tasks and their run history
type TaskStore struct {
	mu      sync.Mutex
	nextID  uint
	tasks   map[uint]*models.ScheduledTask
	history []models.ScheduledTaskHistory
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uint]*models.ScheduledTask)}
}

func (s *TaskStore) Enqueue(_ context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	task.ID = s.nextID
	task.CreatedAt = time.Now()
	stored := *task
	s.tasks[task.ID] = &stored
	return nil
}

func (s *TaskStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]models.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := now.Add(-store.TaskLease)
	var due []*models.ScheduledTask
	for _, task := range s.tasks {
		switch task.Status {
		case models.ScheduledTaskStatusActive:
			if !task.Due.After(now) {
				due = append(due, task)
			}
		case models.ScheduledTaskStatusRunning:
			if task.LastRun == nil || task.LastRun.Before(staleBefore) {
				due = append(due, task)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Due.Before(due[j].Due) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]models.ScheduledTask, 0, len(due))
	for _, task := range due {
		lastRun := now
		task.Status = models.ScheduledTaskStatusRunning
		task.LastRun = &lastRun
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

func (s *TaskStore) Save(_ context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return store.ErrNotFound
	}
	stored := *task
	s.tasks[task.ID] = &stored
	return nil
}

func (s *TaskStore) RecordHistory(_ context.Context, history *models.ScheduledTaskHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *history)
	return nil
}

// Tasks returns a snapshot of all tasks ordered by id
func (s *TaskStore) Tasks() []models.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]models.ScheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// History returns a snapshot of recorded runs
func (s *TaskStore) History() []models.ScheduledTaskHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ScheduledTaskHistory(nil), s.history...)
}

// CallbackHistoryStore keeps callback audit records
type CallbackHistoryStore struct {
	mu      sync.Mutex
	entries []models.PaymentCallbackHistory
}

func NewCallbackHistoryStore() *CallbackHistoryStore {
	return &CallbackHistoryStore{}
}

func (s *CallbackHistoryStore) Record(_ context.Context, entry *models.PaymentCallbackHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uint(len(s.entries) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *CallbackHistoryStore) PurgeBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var purged int64
	for _, entry := range s.entries {
		if entry.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return purged, nil
}

// Entries returns a snapshot of recorded callbacks
func (s *CallbackHistoryStore) Entries() []models.PaymentCallbackHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentCallbackHistory(nil), s.entries...)
}
