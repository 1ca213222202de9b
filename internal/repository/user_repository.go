package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nagger/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"first_name":     firstName,
			"last_name":      lastName,
			"username":       username,
			"last_active_at": now,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := time.Now().UTC()
		user = model.User{
			TelegramID:     telegramID,
			FirstName:      firstName,
			LastName:       lastName,
			Username:       username,
			NextTaskNumber: 1,
			LastActiveAt:   &now,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListWithActiveTasks returns users that have at least one active task.
func (r *UserRepository) ListWithActiveTasks(ctx context.Context) ([]model.User, error) {
	var users []model.User
	sub := r.db.Model(&model.Task{}).Select("user_id").Where("status = ?", model.TaskActive)
	if err := r.db.WithContext(ctx).Where("id IN (?)", sub).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) SetTimezone(ctx context.Context, userID uint, tz string) error {
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		Update("timezone", tz).Error; err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	return nil
}

// PauseNotifications stops reminders for a user until they write to the bot again.
func (r *UserRepository) PauseNotifications(ctx context.Context, userID uint, reason string) error {
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"notifications_paused": true,
			"paused_reason":        reason,
		}).Error; err != nil {
		return fmt.Errorf("pause notifications: %w", err)
	}
	return nil
}

// ResumeNotifications clears a pause. It reports whether the user was paused.
func (r *UserRepository) ResumeNotifications(ctx context.Context, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND notifications_paused = ?", userID, true).
		Updates(map[string]interface{}{
			"notifications_paused": false,
			"paused_reason":        "",
		})
	if res.Error != nil {
		return false, fmt.Errorf("resume notifications: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
