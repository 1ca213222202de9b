package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"nagger/internal/model"
)

// Store bundles the repositories behind the scheduler's persistence contract.
type Store struct {
	Tasks      *TaskRepository
	Users      *UserRepository
	Deliveries *DeliveryRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		Tasks:      NewTaskRepository(db),
		Users:      NewUserRepository(db),
		Deliveries: NewDeliveryRepository(db),
	}
}

func (s *Store) ListActiveWithReminders(ctx context.Context, asOf time.Time) ([]model.Task, error) {
	return s.Tasks.ListActiveWithReminders(ctx, asOf)
}

func (s *Store) UpdateLastSent(ctx context.Context, taskID uint, expected, next *time.Time) (bool, error) {
	return s.Tasks.UpdateLastSent(ctx, taskID, expected, next)
}

func (s *Store) FindTask(ctx context.Context, userID uint, number int) (*model.Task, error) {
	return s.Tasks.FindByNumber(ctx, userID, number)
}

func (s *Store) RecordDelivery(ctx context.Context, d *model.Delivery) error {
	return s.Deliveries.Record(ctx, d)
}

func (s *Store) PauseNotifications(ctx context.Context, userID uint, reason string) error {
	return s.Users.PauseNotifications(ctx, userID, reason)
}
