package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"nagger/internal/model"
	"nagger/internal/notifier"
)

var errNotFound = errors.New("not found")

type fakeStore struct {
	mu         sync.Mutex
	tasks      map[uint]*model.Task
	users      map[uint]*model.User
	deliveries []model.Delivery

	// beforeClaim runs before the conditional update, outside the lock.
	beforeClaim func(taskID uint)
	// listGate blocks ListActiveWithReminders until closed when non-nil.
	listGate    chan struct{}
	listEntered chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[uint]*model.Task{}, users: map[uint]*model.User{}}
}

func (f *fakeStore) addUser(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = &u
	return &u
}

func (f *fakeStore) addTask(t model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Status == "" {
		t.Status = model.TaskActive
	}
	f.tasks[t.ID] = &t
}

func (f *fakeStore) copyTask(t *model.Task) model.Task {
	out := *t
	if t.Reminder != nil {
		r := *t.Reminder
		if t.Reminder.LastSent != nil {
			ls := *t.Reminder.LastSent
			r.LastSent = &ls
		}
		out.Reminder = &r
	}
	if u, ok := f.users[t.UserID]; ok {
		uc := *u
		out.User = &uc
	}
	return out
}

func (f *fakeStore) ListActiveWithReminders(ctx context.Context, asOf time.Time) ([]model.Task, error) {
	if f.listGate != nil {
		close(f.listEntered)
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Task
	for _, t := range f.tasks {
		u := f.users[t.UserID]
		if t.Status != model.TaskActive || t.Reminder == nil || u == nil || u.NotificationsPaused {
			continue
		}
		out = append(out, f.copyTask(t))
	}
	return out, nil
}

func (f *fakeStore) UpdateLastSent(ctx context.Context, taskID uint, expected, next *time.Time) (bool, error) {
	if f.beforeClaim != nil {
		f.beforeClaim(taskID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status != model.TaskActive || t.Reminder == nil {
		return false, nil
	}
	cur := t.Reminder.LastSent
	switch {
	case expected == nil && cur != nil:
		return false, nil
	case expected != nil && (cur == nil || !cur.Equal(*expected)):
		return false, nil
	}
	if next == nil {
		t.Reminder.LastSent = nil
	} else {
		n := *next
		t.Reminder.LastSent = &n
	}
	return true, nil
}

func (f *fakeStore) FindTask(ctx context.Context, userID uint, number int) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.UserID == userID && t.Number == number {
			c := f.copyTask(t)
			return &c, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeStore) RecordDelivery(ctx context.Context, d *model.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, *d)
	return nil
}

func (f *fakeStore) PauseNotifications(ctx context.Context, userID uint, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.NotificationsPaused = true
		u.PausedReason = reason
	}
	return nil
}

func (f *fakeStore) lastSent(taskID uint) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ls := f.tasks[taskID].Reminder.LastSent
	if ls == nil {
		return nil
	}
	c := *ls
	return &c
}

func (f *fakeStore) complete(taskID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[taskID].Status = model.TaskCompleted
}

func (f *fakeStore) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.deliveries))
	for _, d := range f.deliveries {
		out = append(out, d.Outcome)
	}
	return out
}

// fakeNotifier settles every request synchronously with a fixed outcome.
type fakeNotifier struct {
	mu         sync.Mutex
	requests   []notifier.Request
	class      notifier.FailureClass
	enqueueErr error
}

func (n *fakeNotifier) Notify(ctx context.Context, req notifier.Request) error {
	n.mu.Lock()
	if n.enqueueErr != nil {
		n.mu.Unlock()
		return n.enqueueErr
	}
	n.requests = append(n.requests, req)
	class := n.class
	n.mu.Unlock()

	res := notifier.Result{RequestID: req.ID, Attempts: 1, Class: class}
	if class != notifier.FailureNone {
		res.Err = errors.New("send failed")
	}
	if req.OnResult != nil {
		req.OnResult(res)
	}
	return nil
}

func (n *fakeNotifier) sent() []notifier.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.Request(nil), n.requests...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
