package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nagger/internal/model"
	"nagger/internal/repository"
)

// UserService keeps Telegram users and their preferences.
type UserService struct {
	users       *repository.UserRepository
	defaultZone *time.Location
}

func NewUserService(users *repository.UserRepository, defaultZone *time.Location) *UserService {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &UserService{users: users, defaultZone: defaultZone}
}

// Touch records activity of a Telegram user. resumed is true when the user had
// notifications paused and they are now back on.
func (s *UserService) Touch(ctx context.Context, telegramID int64, firstName, lastName, username string) (user *model.User, resumed bool, err error) {
	user, err = s.users.UpsertFromTelegram(ctx, telegramID, firstName, lastName, username)
	if err != nil {
		return nil, false, err
	}
	if user.NotificationsPaused {
		resumed, err = s.users.ResumeNotifications(ctx, user.ID)
		if err != nil {
			return nil, false, err
		}
		user.NotificationsPaused = false
		user.PausedReason = ""
	}
	return user, resumed, nil
}

// Pause stops reminders for a user the bot can no longer reach.
func (s *UserService) Pause(ctx context.Context, user *model.User, reason string) error {
	if err := s.users.PauseNotifications(ctx, user.ID, reason); err != nil {
		return err
	}
	user.NotificationsPaused = true
	user.PausedReason = reason
	return nil
}

// SetTimezone validates and stores an IANA zone name.
func (s *UserService) SetTimezone(ctx context.Context, user *model.User, name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: timezone is empty", ErrValidation)
	}
	loc, err := time.LoadLocation(name)
	if err != nil || strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrValidation, name)
	}
	if err := s.users.SetTimezone(ctx, user.ID, loc.String()); err != nil {
		return nil, err
	}
	user.Timezone = loc.String()
	return loc, nil
}

// Location returns the user's zone, or the default when unset or invalid.
func (s *UserService) Location(user *model.User) *time.Location {
	if user.Timezone == "" {
		return s.defaultZone
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return s.defaultZone
	}
	return loc
}

func (s *UserService) HasTimezone(user *model.User) bool {
	return user.Timezone != ""
}

func (s *UserService) ListWithActiveTasks(ctx context.Context) ([]model.User, error) {
	return s.users.ListWithActiveTasks(ctx)
}
