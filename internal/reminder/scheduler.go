package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nagger/internal/model"
	"nagger/internal/notifier"
)

var (
	ErrSweepInProgress = errors.New("sweep already in progress")
	ErrNoReminder      = errors.New("task has no reminder")
)

// Store is the persistence the scheduler needs.
type Store interface {
	// ListActiveWithReminders returns active tasks of non-paused owners created
	// at or before asOf, with Reminder and User loaded.
	ListActiveWithReminders(ctx context.Context, asOf time.Time) ([]model.Task, error)
	// UpdateLastSent sets last_sent to next only if it still equals expected
	// (nil means "never sent") and the task is still active. It reports
	// whether the row changed.
	UpdateLastSent(ctx context.Context, taskID uint, expected, next *time.Time) (bool, error)
	// FindTask loads one task by owner-scoped number, with Reminder and User.
	FindTask(ctx context.Context, userID uint, number int) (*model.Task, error)
	RecordDelivery(ctx context.Context, d *model.Delivery) error
	PauseNotifications(ctx context.Context, userID uint, reason string) error
}

// Notifier accepts rendered reminders for asynchronous delivery.
type Notifier interface {
	Notify(ctx context.Context, req notifier.Request) error
}

// Options tune a Scheduler. Zero values pick defaults.
type Options struct {
	Clock   Clock
	Policy  Policy
	Workers int
	// SettleTimeout bounds store writes made after delivery finishes.
	SettleTimeout time.Duration
	NewID         func() string
}

// SweepReport summarises one pass.
type SweepReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Checked    int           `json:"checked"`
	Due        int           `json:"due"`
	Dispatched int           `json:"dispatched"`
	Deferred   int           `json:"deferred"`
	Conflicts  int           `json:"conflicts"`
	Errors     int           `json:"errors"`
}

// Totals accumulates delivery outcomes since start.
type Totals struct {
	Sweeps     int64 `json:"sweeps"`
	Sent       int64 `json:"sent"`
	Blocked    int64 `json:"blocked"`
	Failed     int64 `json:"failed"`
	Tests      int64 `json:"tests"`
	RolledBack int64 `json:"rolled_back"`
}

// Scheduler decides which tasks are due and hands them to the notifier.
// Sweeps never overlap. Precision is bounded by how often Sweep is called.
type Scheduler struct {
	store    Store
	notifier Notifier
	clock    Clock
	log      zerolog.Logger

	policy  atomic.Pointer[Policy]
	workers int
	settle  time.Duration
	newID   func() string

	running atomic.Bool

	mu     sync.Mutex
	last   SweepReport
	totals Totals
}

func NewScheduler(store Store, n Notifier, log zerolog.Logger, opts Options) (*Scheduler, error) {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Policy.Floor == 0 && len(opts.Policy.Bands) == 0 {
		opts.Policy = DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 10 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Scheduler{
		store:    store,
		notifier: n,
		clock:    opts.Clock,
		log:      log.With().Str("comp", "scheduler").Logger(),
		workers:  opts.Workers,
		settle:   opts.SettleTimeout,
		newID:    opts.NewID,
	}
	p := opts.Policy
	s.policy.Store(&p)
	return s, nil
}

// Policy returns the escalation curve in use.
func (s *Scheduler) Policy() Policy {
	return *s.policy.Load()
}

// SetPolicy swaps the escalation curve. The next sweep picks it up.
func (s *Scheduler) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.policy.Store(&p)
	s.log.Info().Str("policy", p.String()).Msg("escalation policy updated")
	return nil
}

func (s *Scheduler) LastSweep() SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

type sweepCounters struct {
	checked, due, dispatched, deferred, conflicts, errors atomic.Int64
}

// Sweep runs one pass over every active task. Per-task failures are logged
// and counted but never abort the pass. It returns ErrSweepInProgress when
// another sweep is still running.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	started := time.Now()
	now := s.clock.Now()
	report := SweepReport{StartedAt: now}
	policy := s.Policy()

	tasks, err := s.store.ListActiveWithReminders(ctx, now)
	if err != nil {
		return report, fmt.Errorf("list active tasks: %w", err)
	}

	var c sweepCounters
	zones := newZoneCache(s.log)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range tasks {
		task := &tasks[i]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.errors.Add(1)
					s.log.Error().Uint("task_id", task.ID).Interface("panic", r).
						Str("stack", string(debug.Stack())).Msg("task check panicked")
				}
			}()
			s.checkTask(ctx, task, now, policy, zones, &c)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	report.Checked = int(c.checked.Load())
	report.Due = int(c.due.Load())
	report.Dispatched = int(c.dispatched.Load())
	report.Deferred = int(c.deferred.Load())
	report.Conflicts = int(c.conflicts.Load())
	report.Errors = int(c.errors.Load())

	s.mu.Lock()
	s.last = report
	s.totals.Sweeps++
	s.mu.Unlock()

	ev := s.log.Debug()
	if report.Dispatched > 0 || report.Errors > 0 {
		ev = s.log.Info()
	}
	ev.Int("checked", report.Checked).
		Int("due", report.Due).
		Int("dispatched", report.Dispatched).
		Int("deferred", report.Deferred).
		Int("conflicts", report.Conflicts).
		Int("errors", report.Errors).
		Dur("took", report.Duration).
		Msg("sweep finished")
	return report, nil
}

func (s *Scheduler) checkTask(ctx context.Context, task *model.Task, now time.Time, policy Policy, zones *zoneCache, c *sweepCounters) {
	c.checked.Add(1)
	log := s.log.With().Uint("task_id", task.ID).Uint("user_id", task.UserID).Logger()

	if task.User == nil {
		c.errors.Add(1)
		log.Warn().Msg("task owner not loaded, skipping")
		return
	}

	loc := zones.location(task.User)
	ev, err := Evaluate(task, loc, now, policy)
	if err != nil {
		c.errors.Add(1)
		log.Warn().Err(err).Msg("bad reminder config, skipping")
		return
	}
	if !ev.Due {
		if ev.Reason == ReasonOutsideWindow {
			c.deferred.Add(1)
		}
		return
	}
	c.due.Add(1)

	prior := task.Reminder.LastSent
	claimed := now
	ok, err := s.store.UpdateLastSent(ctx, task.ID, prior, &claimed)
	if err != nil {
		c.errors.Add(1)
		log.Error().Err(err).Msg("claim last_sent")
		return
	}
	if !ok {
		// The task was completed or deleted after the read.
		c.conflicts.Add(1)
		log.Debug().Msg("task changed since read, skipping")
		return
	}

	req := notifier.Request{
		ID:         s.newID(),
		ChatID:     task.User.TelegramID,
		TaskID:     task.ID,
		TaskNumber: task.Number,
		Text:       Render(task, loc, now, ev.Severity, false),
		Severity:   ev.Severity,
	}
	req.OnResult = func(res notifier.Result) {
		s.settleScheduled(task, prior, claimed, req, res)
	}

	if err := s.notifier.Notify(ctx, req); err != nil {
		c.errors.Add(1)
		log.Warn().Err(err).Msg("enqueue reminder")
		s.settleScheduled(task, prior, claimed, req, notifier.Result{
			RequestID: req.ID,
			Class:     notifier.FailureTransient,
			Err:       err,
		})
		return
	}
	c.dispatched.Add(1)
	log.Debug().Str("delivery_id", req.ID).Str("severity", string(ev.Severity)).
		Dur("interval", ev.Interval).Msg("reminder dispatched")
}

// settleScheduled applies the delivery outcome of a scheduled reminder.
func (s *Scheduler) settleScheduled(task *model.Task, prior *time.Time, claimed time.Time, req notifier.Request, res notifier.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settle)
	defer cancel()
	log := s.log.With().Uint("task_id", task.ID).Str("delivery_id", req.ID).Logger()

	d := &model.Delivery{
		DeliveryID: req.ID,
		TaskID:     task.ID,
		UserID:     task.UserID,
		Severity:   string(req.Severity),
		Attempts:   res.Attempts,
	}
	if res.Err != nil {
		d.Error = truncate(res.Err.Error(), 500)
	}

	switch res.Class {
	case notifier.FailureNone:
		d.Outcome = model.OutcomeSent
		s.bump(func(t *Totals) { t.Sent++ })

	case notifier.FailurePermanent:
		// Counts as delivered: last_sent stays so the owner is not retried.
		d.Outcome = model.OutcomeBlocked
		s.bump(func(t *Totals) { t.Blocked++ })
		if err := s.store.PauseNotifications(ctx, task.UserID, d.Error); err != nil {
			log.Error().Err(err).Msg("pause notifications")
		} else {
			log.Warn().Err(res.Err).Uint("user_id", task.UserID).Msg("recipient unreachable, notifications paused")
		}

	default:
		d.Outcome = model.OutcomeFailed
		s.bump(func(t *Totals) { t.Failed++ })
		restored, err := s.store.UpdateLastSent(ctx, task.ID, &claimed, prior)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("roll back last_sent")
		case restored:
			s.bump(func(t *Totals) { t.RolledBack++ })
			log.Warn().Err(res.Err).Msg("delivery failed, will retry next sweep")
		default:
			log.Debug().Msg("last_sent moved on, rollback skipped")
		}
	}

	if err := s.store.RecordDelivery(ctx, d); err != nil {
		log.Error().Err(err).Msg("record delivery")
	}
}

// FireTest sends a one-off reminder for a task right now, ignoring due-ness
// and active hours. Scheduling state is never touched. It returns the
// delivery id.
func (s *Scheduler) FireTest(ctx context.Context, userID uint, number int) (string, error) {
	task, err := s.store.FindTask(ctx, userID, number)
	if err != nil {
		return "", err
	}
	if task.Reminder == nil {
		return "", ErrNoReminder
	}
	if task.User == nil {
		return "", fmt.Errorf("task %d: owner not loaded", task.ID)
	}

	now := s.clock.Now()
	loc := locationOf(task.User)
	sev := notifier.SeverityNormal
	if task.Reminder.EscalationEnabled && s.Policy().Engaged(task.Deadline.Sub(now)) {
		sev = notifier.SeverityEscalated
	}

	req := notifier.Request{
		ID:         s.newID(),
		ChatID:     task.User.TelegramID,
		TaskID:     task.ID,
		TaskNumber: task.Number,
		Text:       Render(task, loc, now, sev, true),
		Severity:   sev,
		Test:       true,
	}
	req.OnResult = func(res notifier.Result) {
		s.settleTest(task, req, res)
	}
	if err := s.notifier.Notify(ctx, req); err != nil {
		return "", fmt.Errorf("enqueue test reminder: %w", err)
	}
	return req.ID, nil
}

func (s *Scheduler) settleTest(task *model.Task, req notifier.Request, res notifier.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settle)
	defer cancel()

	d := &model.Delivery{
		DeliveryID: req.ID,
		TaskID:     task.ID,
		UserID:     task.UserID,
		Severity:   string(req.Severity),
		Outcome:    model.OutcomeTest,
		Attempts:   res.Attempts,
	}
	if res.Err != nil {
		d.Outcome = model.OutcomeFailed
		d.Error = truncate(res.Err.Error(), 500)
	}
	log := s.log.With().Uint("task_id", task.ID).Str("delivery_id", req.ID).Logger()
	s.bump(func(t *Totals) { t.Tests++ })
	if res.Class == notifier.FailurePermanent {
		d.Outcome = model.OutcomeBlocked
		s.bump(func(t *Totals) { t.Blocked++ })
		if err := s.store.PauseNotifications(ctx, task.UserID, d.Error); err != nil {
			log.Error().Err(err).Msg("pause notifications")
		} else {
			log.Warn().Err(res.Err).Uint("user_id", task.UserID).Msg("recipient unreachable, notifications paused")
		}
	}
	if err := s.store.RecordDelivery(ctx, d); err != nil {
		log.Error().Err(err).Msg("record test delivery")
	}
}

func (s *Scheduler) bump(f func(*Totals)) {
	s.mu.Lock()
	f(&s.totals)
	s.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
