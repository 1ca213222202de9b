package reminder

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nagger/internal/model"
	"nagger/internal/notifier"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type harness struct {
	store *fakeStore
	notif *fakeNotifier
	clock *fakeClock
	sched *Scheduler
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(),
		notif: &fakeNotifier{},
		clock: &fakeClock{now: t0},
	}
	sched, err := NewScheduler(h.store, h.notif, zerolog.Nop(), Options{
		Clock:   h.clock,
		Policy:  policy,
		Workers: 3,
	})
	require.NoError(t, err)
	h.sched = sched
	h.store.addUser(model.User{ID: 1, TelegramID: 1001})
	return h
}

func ptr(t time.Time) *time.Time { return &t }

func (h *harness) addTask(id uint, every time.Duration, deadline time.Time, lastSent *time.Time, mod ...func(*model.Reminder)) {
	freq, err := FrequencyFromDuration(every)
	if err != nil {
		panic(err)
	}
	r := &model.Reminder{
		TaskID:            id,
		FrequencyKind:     freq.Kind,
		FrequencyValue:    freq.Value,
		EscalationEnabled: true,
		LastSent:          lastSent,
	}
	for _, m := range mod {
		m(r)
	}
	h.store.addTask(model.Task{
		ID:       id,
		UserID:   1,
		Number:   int(id),
		Title:    "Pay rent",
		Deadline: deadline,
		Reminder: r,
	})
}

func (h *harness) sweep(t *testing.T) SweepReport {
	t.Helper()
	rep, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	return rep
}

func TestSweepWaitsForBaseInterval(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(1, 30*time.Minute, t0.Add(48*time.Hour), ptr(t0))

	h.clock.Set(t0.Add(29 * time.Minute))
	rep := h.sweep(t)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, 0, rep.Dispatched)
	assert.Empty(t, h.notif.sent())

	h.clock.Set(t0.Add(31 * time.Minute))
	rep = h.sweep(t)
	assert.Equal(t, 1, rep.Dispatched)
	require.Len(t, h.notif.sent(), 1)
	assert.Equal(t, notifier.SeverityNormal, h.notif.sent()[0].Severity)
	assert.Equal(t, int64(1001), h.notif.sent()[0].ChatID)
	assert.True(t, h.store.lastSent(1).Equal(t0.Add(31*time.Minute)))
	assert.Equal(t, []string{model.OutcomeSent}, h.store.outcomes())
}

func TestSweepFirstReminderIsImmediate(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(1, 2*time.Hour, t0.Add(48*time.Hour), nil)

	rep := h.sweep(t)
	assert.Equal(t, 1, rep.Dispatched)
	assert.True(t, h.store.lastSent(1).Equal(t0))
}

func TestSweepIsIdempotentAtSameInstant(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(1, 15*time.Minute, t0.Add(48*time.Hour), nil)

	h.sweep(t)
	rep := h.sweep(t)
	assert.Equal(t, 0, rep.Dispatched)
	assert.Len(t, h.notif.sent(), 1)
}

func TestSweepUsesEscalatedIntervalNearDeadline(t *testing.T) {
	policy := Policy{
		Floor: 5 * time.Minute,
		Bands: []Band{
			{Within: 10 * time.Minute, Interval: 5 * time.Minute},
			{Within: 30 * time.Minute, Interval: 15 * time.Minute},
		},
	}
	h := newHarness(t, policy)
	h.addTask(1, 30*time.Minute, t0.Add(8*time.Minute), ptr(t0.Add(-6*time.Minute)))

	rep := h.sweep(t)
	assert.Equal(t, 1, rep.Dispatched)
	sent := h.notif.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notifier.SeverityEscalated, sent[0].Severity)
	assert.Contains(t, sent[0].Text, "URGENT")
}

func TestSweepKeepsNaggingOverdueTasks(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(1, 2*time.Hour, t0.Add(-time.Hour), ptr(t0.Add(-6*time.Minute)))

	rep := h.sweep(t)
	assert.Equal(t, 1, rep.Dispatched)
	assert.Contains(t, h.notif.sent()[0].Text, "Overdue by 1h")
}

func TestSweepOverdueWithoutEscalationUsesBaseInterval(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(1, 2*time.Hour, t0.Add(-time.Hour), ptr(t0.Add(-6*time.Minute)), func(r *model.Reminder) {
		r.EscalationEnabled = false
	})

	rep := h.sweep(t)
	assert.Equal(t, 0, rep.Dispatched)
}

func TestSweepDefersOutsideActiveHours(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.store.users[1].Timezone = "Asia/Tokyo"
	h.addTask(1, 30*time.Minute, t0.Add(72*time.Hour), nil, func(r *model.Reminder) {
		r.WindowStart, r.WindowEnd = "09:00", "22:00"
	})

	// 14:00 UTC is 23:00 in Tokyo.
	h.clock.Set(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	rep := h.sweep(t)
	assert.Equal(t, 0, rep.Dispatched)
	assert.Equal(t, 1, rep.Deferred)
	assert.Nil(t, h.store.lastSent(1))

	// 00:30 UTC is 09:30 in Tokyo.
	h.clock.Set(time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC))
	rep = h.sweep(t)
	assert.Equal(t, 1, rep.Dispatched)
}

func TestSweepSkipsTaskCompletedAfterRead(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(1, 15*time.Minute, t0.Add(48*time.Hour), nil)
	h.store.beforeClaim = func(taskID uint) { h.store.complete(taskID) }

	rep := h.sweep(t)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Conflicts)
	assert.Equal(t, 0, rep.Dispatched)
	assert.Empty(t, h.notif.sent())
}

func TestTransientFailureRollsBackLastSent(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.notif.class = notifier.FailureTransient
	h.addTask(1, 30*time.Minute, t0.Add(48*time.Hour), ptr(t0.Add(-time.Hour)))

	h.sweep(t)
	require.NotNil(t, h.store.lastSent(1))
	assert.True(t, h.store.lastSent(1).Equal(t0.Add(-time.Hour)))
	assert.Equal(t, []string{model.OutcomeFailed}, h.store.outcomes())
	assert.Equal(t, int64(1), h.sched.Totals().RolledBack)

	h.notif.class = notifier.FailureNone
	h.clock.Advance(time.Minute)
	rep := h.sweep(t)
	assert.Equal(t, 1, rep.Dispatched)
	assert.True(t, h.store.lastSent(1).Equal(t0.Add(time.Minute)))
}

func TestTransientFailureOnFirstReminderRestoresNever(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.notif.class = notifier.FailureTransient
	h.addTask(1, 30*time.Minute, t0.Add(48*time.Hour), nil)

	h.sweep(t)
	assert.Nil(t, h.store.lastSent(1))
}

func TestEnqueueFailureRollsBackLastSent(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.notif.enqueueErr = notifier.ErrQueueFull
	h.addTask(1, 30*time.Minute, t0.Add(48*time.Hour), ptr(t0.Add(-time.Hour)))

	rep := h.sweep(t)
	assert.Equal(t, 0, rep.Dispatched)
	assert.Equal(t, 1, rep.Errors)
	assert.True(t, h.store.lastSent(1).Equal(t0.Add(-time.Hour)))
}

func TestPermanentFailurePausesOwner(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.notif.class = notifier.FailurePermanent
	h.addTask(1, 30*time.Minute, t0.Add(48*time.Hour), nil)

	h.sweep(t)
	assert.True(t, h.store.lastSent(1).Equal(t0))
	assert.True(t, h.store.users[1].NotificationsPaused)
	assert.Equal(t, []string{model.OutcomeBlocked}, h.store.outcomes())

	h.clock.Advance(time.Hour)
	rep := h.sweep(t)
	assert.Equal(t, 0, rep.Checked)
	assert.Len(t, h.notif.sent(), 1)
}

func TestSweepDispatchesManyTasksOnce(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	for id := uint(1); id <= 20; id++ {
		h.addTask(id, 15*time.Minute, t0.Add(48*time.Hour), nil)
	}

	rep := h.sweep(t)
	assert.Equal(t, 20, rep.Checked)
	assert.Equal(t, 20, rep.Dispatched)

	seen := map[uint]bool{}
	ids := map[string]bool{}
	for _, r := range h.notif.sent() {
		assert.False(t, seen[r.TaskID], "task %d dispatched twice", r.TaskID)
		seen[r.TaskID] = true
		ids[r.ID] = true
	}
	assert.Len(t, ids, 20)
	assert.Equal(t, rep, h.sched.LastSweep())
}

func TestSweepIsolatesFailingTasks(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(1, 30*time.Minute, t0.Add(48*time.Hour), nil)
	h.addTask(2, 30*time.Minute, t0.Add(48*time.Hour), nil, func(r *model.Reminder) {
		r.FrequencyValue = 0
	})
	h.addTask(3, 30*time.Minute, t0.Add(48*time.Hour), nil)
	h.store.beforeClaim = func(taskID uint) {
		if taskID == 3 {
			panic("store exploded")
		}
	}

	rep := h.sweep(t)
	assert.Equal(t, 3, rep.Checked)
	assert.Equal(t, 1, rep.Dispatched)
	assert.Equal(t, 2, rep.Errors)

	sent := h.notif.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint(1), sent[0].TaskID)
	assert.True(t, h.store.lastSent(1).Equal(t0))
	assert.Nil(t, h.store.lastSent(2))
	assert.Nil(t, h.store.lastSent(3))
	assert.Equal(t, []string{model.OutcomeSent}, h.store.outcomes())
}

func TestSweepsNeverOverlap(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.store.listGate = make(chan struct{})
	h.store.listEntered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.sched.Sweep(context.Background())
		done <- err
	}()

	<-h.store.listEntered
	_, err := h.sched.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(h.store.listGate)
	require.NoError(t, <-done)
}

func TestFireTestDoesNotTouchSchedule(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addTask(3, 30*time.Minute, t0.Add(48*time.Hour), ptr(t0.Add(-10*time.Minute)), func(r *model.Reminder) {
		r.WindowStart, r.WindowEnd = "01:00", "02:00"
	})

	id, err := h.sched.FireTest(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sent := h.notif.sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Test)
	assert.Contains(t, sent[0].Text, "Test Reminder")
	assert.True(t, h.store.lastSent(3).Equal(t0.Add(-10*time.Minute)))
	assert.Equal(t, []string{model.OutcomeTest}, h.store.outcomes())
}

func TestFireTestPermanentFailurePausesOwner(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.notif.class = notifier.FailurePermanent
	h.addTask(1, 30*time.Minute, t0.Add(48*time.Hour), ptr(t0.Add(-10*time.Minute)))

	_, err := h.sched.FireTest(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.True(t, h.store.users[1].NotificationsPaused)
	assert.True(t, h.store.lastSent(1).Equal(t0.Add(-10*time.Minute)))
	assert.Equal(t, []string{model.OutcomeBlocked}, h.store.outcomes())
	assert.Equal(t, int64(1), h.sched.Totals().Blocked)
}

func TestFireTestUnknownTask(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	_, err := h.sched.FireTest(context.Background(), 1, 42)
	assert.ErrorIs(t, err, errNotFound)
	assert.Empty(t, h.notif.sent())
}

func TestSetPolicyRejectsInvertedBands(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	err := h.sched.SetPolicy(Policy{
		Floor: time.Minute,
		Bands: []Band{
			{Within: 10 * time.Minute, Interval: 20 * time.Minute},
			{Within: 30 * time.Minute, Interval: 5 * time.Minute},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, DefaultPolicy(), h.sched.Policy())
}
