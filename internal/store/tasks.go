package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sep_psp/internal/models"
)

// TaskLease is how long a claimed task may stay running before another runner takes it over
const TaskLease = 10 * time.Minute

// TaskRepository is the gorm backed TaskStore
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Enqueue(ctx context.Context, task *models.ScheduledTask) error {
	return translate(r.db.WithContext(ctx).Create(task).Error)
}

func (r *TaskRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledTask, error) {
	var claimed []models.ScheduledTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("(status = ? AND due <= ?) OR (status = ? AND (last_run IS NULL OR last_run < ?))",
			models.ScheduledTaskStatusActive, now,
			models.ScheduledTaskStatusRunning, now.Add(-TaskLease)).
			Order("due asc").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := query.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(claimed))
		for _, task := range claimed {
			ids = append(ids, task.ID)
		}
		return tx.Model(&models.ScheduledTask{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":   models.ScheduledTaskStatusRunning,
				"last_run": now,
			}).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	for i := range claimed {
		claimed[i].Status = models.ScheduledTaskStatusRunning
		claimed[i].LastRun = &now
	}
	return claimed, nil
}

func (r *TaskRepository) Save(ctx context.Context, task *models.ScheduledTask) error {
	return translate(r.db.WithContext(ctx).Save(task).Error)
}

func (r *TaskRepository) RecordHistory(ctx context.Context, history *models.ScheduledTaskHistory) error {
	return translate(r.db.WithContext(ctx).Create(history).Error)
}

// CallbackHistoryRepository is the gorm backed CallbackHistoryStore
type CallbackHistoryRepository struct {
	db *gorm.DB
}

func NewCallbackHistoryRepository(db *gorm.DB) *CallbackHistoryRepository {
	return &CallbackHistoryRepository{db: db}
}

func (r *CallbackHistoryRepository) Record(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	return translate(r.db.WithContext(ctx).Create(entry).Error)
}

func (r *CallbackHistoryRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.PaymentCallbackHistory{})
	return result.RowsAffected, translate(result.Error)
}
