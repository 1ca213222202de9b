package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nagger/internal/model"
)

// DeliveryRepository stores the reminder journal.
type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Record(ctx context.Context, d *model.Delivery) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// ListForTask returns the newest deliveries of a task first.
func (r *DeliveryRepository) ListForTask(ctx context.Context, taskID uint, limit int) ([]model.Delivery, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []model.Delivery
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("created_at DESC, id DESC").Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}

// CountForUser counts an owner's deliveries with the given outcome since a time.
func (r *DeliveryRepository) CountForUser(ctx context.Context, userID uint, outcome string, since time.Time) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Delivery{}).
		Where("user_id = ? AND outcome = ? AND created_at >= ?", userID, outcome, since.UTC()).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}
