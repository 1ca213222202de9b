package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nagger/internal/model"
)

// TaskRepository handles CRUD for tasks and their reminders.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create allocates the owner's next task number and inserts the task together
// with its reminder.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).Where("id = ?", task.UserID).
			Update("next_task_number", gorm.Expr("next_task_number + 1"))
		if res.Error != nil {
			return fmt.Errorf("bump task number: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var next int
		if err := tx.Model(&model.User{}).Where("id = ?", task.UserID).
			Pluck("next_task_number", &next).Error; err != nil {
			return fmt.Errorf("read task number: %w", err)
		}
		task.Number = next - 1
		if task.Status == "" {
			task.Status = model.TaskActive
		}
		return tx.Omit("User").Create(task).Error
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// ListActive returns the owner's active tasks, soonest deadline first.
func (r *TaskRepository) ListActive(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Preload("Reminder").
		Where("user_id = ? AND status = ?", userID, model.TaskActive).
		Order("deadline, number").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// FindByNumber loads a task by owner-scoped number, with Reminder and User.
func (r *TaskRepository) FindByNumber(ctx context.Context, userID uint, number int) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Preload("Reminder").Preload("User").
		Where("user_id = ? AND number = ?", userID, number).
		First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Complete flips an active task to completed. It reports false when the task
// is missing or already completed.
func (r *TaskRepository) Complete(ctx context.Context, userID uint, number int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND number = ? AND status = ?", userID, number, model.TaskActive).
		Updates(map[string]interface{}{
			"status":       model.TaskCompleted,
			"completed_at": at.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete task: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Delete soft-deletes one task.
func (r *TaskRepository) Delete(ctx context.Context, userID uint, number int) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND number = ?", userID, number).
		Delete(&model.Task{})
	if res.Error != nil {
		return false, fmt.Errorf("delete task: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteAll soft-deletes every task of the owner. Numbering is not reset.
func (r *TaskRepository) DeleteAll(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Task{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TaskCounts summarises an owner's tasks.
type TaskCounts struct {
	Active    int64
	Completed int64
	Overdue   int64
}

func (r *TaskRepository) Counts(ctx context.Context, userID uint, now time.Time) (TaskCounts, error) {
	var c TaskCounts
	db := r.db.WithContext(ctx).Model(&model.Task{}).Where("user_id = ?", userID)
	if err := db.Session(&gorm.Session{}).Where("status = ?", model.TaskActive).Count(&c.Active).Error; err != nil {
		return c, fmt.Errorf("count tasks: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("status = ?", model.TaskCompleted).Count(&c.Completed).Error; err != nil {
		return c, fmt.Errorf("count tasks: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("status = ? AND deadline < ?", model.TaskActive, now.UTC()).Count(&c.Overdue).Error; err != nil {
		return c, fmt.Errorf("count tasks: %w", err)
	}
	return c, nil
}

// ListActiveWithReminders returns active tasks with a reminder whose owner
// has notifications enabled, created at or before asOf.
func (r *TaskRepository) ListActiveWithReminders(ctx context.Context, asOf time.Time) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Select("tasks.*").
		Joins("JOIN reminders ON reminders.task_id = tasks.id").
		Joins("JOIN users ON users.id = tasks.user_id").
		Where("tasks.status = ? AND users.notifications_paused = ? AND tasks.created_at <= ?",
			model.TaskActive, false, asOf.UTC()).
		Preload("Reminder").
		Preload("User").
		Order("tasks.deadline").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list active reminders: %w", err)
	}
	return tasks, nil
}

// UpdateLastSent moves last_sent from expected to next. The write only lands
// if last_sent still equals expected and the task is active and not deleted.
func (r *TaskRepository) UpdateLastSent(ctx context.Context, taskID uint, expected, next *time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&model.Reminder{}).
		Where("task_id = ?", taskID).
		Where("EXISTS (SELECT 1 FROM tasks WHERE tasks.id = reminders.task_id AND tasks.status = ? AND tasks.deleted_at IS NULL)", model.TaskActive)
	if expected == nil {
		q = q.Where("last_sent IS NULL")
	} else {
		q = q.Where("last_sent = ?", expected.UTC())
	}

	var value interface{} = gorm.Expr("NULL")
	if next != nil {
		value = next.UTC()
	}
	res := q.Update("last_sent", value)
	if res.Error != nil {
		return false, fmt.Errorf("update last_sent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
