package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"nagger/internal/model"
	"nagger/internal/reminder"
	"nagger/internal/repository"
)

const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
	MaxMessageLen     = 500
)

var (
	ErrValidation   = errors.New("invalid task")
	ErrTaskNotFound = errors.New("task not found")
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title         string
	Description   string
	Deadline      time.Time
	Frequency     reminder.Frequency
	WindowStart   string
	WindowEnd     string
	Escalation    bool
	CustomMessage string
}

// TaskService wraps task-related business logic.
type TaskService struct {
	tasks       *repository.TaskRepository
	deliveries  *repository.DeliveryRepository
	clock       reminder.Clock
	minInterval time.Duration
}

func NewTaskService(tasks *repository.TaskRepository, deliveries *repository.DeliveryRepository, clock reminder.Clock, minInterval time.Duration) *TaskService {
	if clock == nil {
		clock = reminder.SystemClock{}
	}
	return &TaskService{tasks: tasks, deliveries: deliveries, clock: clock, minInterval: minInterval}
}

// MinInterval is the shortest reminder frequency accepted.
func (s *TaskService) MinInterval() time.Duration {
	return s.minInterval
}

// Validate checks input against the rules enforced at creation time.
func (s *TaskService) Validate(input TaskInput) error {
	title := strings.TrimSpace(input.Title)
	switch {
	case title == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case utf8.RuneCountInString(title) > MaxTitleLen:
		return fmt.Errorf("%w: title is longer than %d characters", ErrValidation, MaxTitleLen)
	case utf8.RuneCountInString(input.Description) > MaxDescriptionLen:
		return fmt.Errorf("%w: description is longer than %d characters", ErrValidation, MaxDescriptionLen)
	case utf8.RuneCountInString(input.CustomMessage) > MaxMessageLen:
		return fmt.Errorf("%w: message is longer than %d characters", ErrValidation, MaxMessageLen)
	case input.Deadline.IsZero():
		return fmt.Errorf("%w: deadline is required", ErrValidation)
	case !input.Deadline.After(s.clock.Now()):
		return fmt.Errorf("%w: deadline must be in the future", ErrValidation)
	}
	if err := input.Frequency.Validate(s.minInterval); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, _, err := reminder.ParseWindow(input.WindowStart, input.WindowEnd); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	if err := s.Validate(input); err != nil {
		return nil, err
	}

	var start, end string
	if w, ok, _ := reminder.ParseWindow(input.WindowStart, input.WindowEnd); ok {
		start, end = w.StartClock(), w.EndClock()
	}

	task := model.Task{
		UserID:      user.ID,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Deadline:    input.Deadline.UTC().Truncate(time.Microsecond),
		Status:      model.TaskActive,
		Reminder: &model.Reminder{
			FrequencyKind:     input.Frequency.Kind,
			FrequencyValue:    input.Frequency.Value,
			WindowStart:       start,
			WindowEnd:         end,
			EscalationEnabled: input.Escalation,
			CustomMessage:     strings.TrimSpace(input.CustomMessage),
		},
	}
	if err := s.tasks.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) ListActive(ctx context.Context, user *model.User) ([]model.Task, error) {
	return s.tasks.ListActive(ctx, user.ID)
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, number int) (*model.Task, error) {
	task, err := s.tasks.FindByNumber(ctx, user.ID, number)
	if repository.IsNotFound(err) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// CompleteTask marks a task as done. Completing an already completed task
// returns it unchanged.
func (s *TaskService) CompleteTask(ctx context.Context, user *model.User, number int) (*model.Task, error) {
	task, err := s.GetTask(ctx, user, number)
	if err != nil {
		return nil, err
	}
	if !task.IsActive() {
		return task, nil
	}
	now := s.clock.Now()
	if _, err := s.tasks.Complete(ctx, user.ID, number, now); err != nil {
		return nil, err
	}
	task.Status = model.TaskCompleted
	task.CompletedAt = &now
	return task, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, number int) error {
	ok, err := s.tasks.Delete(ctx, user.ID, number)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskNotFound
	}
	return nil
}

// ClearTasks deletes every task of the user. Task numbers keep counting up.
func (s *TaskService) ClearTasks(ctx context.Context, user *model.User) (int64, error) {
	return s.tasks.DeleteAll(ctx, user.ID)
}

// History returns the latest deliveries of one task.
func (s *TaskService) History(ctx context.Context, user *model.User, number int, limit int) (*model.Task, []model.Delivery, error) {
	task, err := s.GetTask(ctx, user, number)
	if err != nil {
		return nil, nil, err
	}
	list, err := s.deliveries.ListForTask(ctx, task.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return task, list, nil
}

// UserStats is shown by /info.
type UserStats struct {
	repository.TaskCounts
	SentToday int64
}

func (s *TaskService) Stats(ctx context.Context, user *model.User, loc *time.Location) (UserStats, error) {
	now := s.clock.Now()
	counts, err := s.tasks.Counts(ctx, user.ID, now)
	if err != nil {
		return UserStats{}, err
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	sent, err := s.deliveries.CountForUser(ctx, user.ID, model.OutcomeSent, midnight)
	if err != nil {
		return UserStats{}, err
	}
	return UserStats{TaskCounts: counts, SentToday: sent}, nil
}
