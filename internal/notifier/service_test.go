package notifier

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
	}
}

func collect(req Request) (Request, <-chan Result) {
	ch := make(chan Result, 1)
	req.OnResult = func(r Result) { ch <- r }
	return req, ch
}

func wait(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
		return Result{}
	}
}

func startService(t *testing.T, cfg Config, sender Sender, classify Classifier) *Service {
	t.Helper()
	s := New(cfg, sender, classify, zerolog.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestDeliverSuccess(t *testing.T) {
	var got atomic.Int64
	s := startService(t, testConfig(), SenderFunc(func(_ context.Context, chatID int64, text string) error {
		got.Store(chatID)
		return nil
	}), nil)

	req, ch := collect(Request{ID: "r1", ChatID: 77, Text: "hi"})
	require.NoError(t, s.Notify(context.Background(), req))

	res := wait(t, ch)
	assert.True(t, res.Delivered())
	assert.Equal(t, "r1", res.RequestID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int64(77), got.Load())
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	s := startService(t, testConfig(), SenderFunc(func(context.Context, int64, string) error {
		if calls.Add(1) < 3 {
			return errors.New("502 bad gateway")
		}
		return nil
	}), func(error) FailureClass { return FailureTransient })

	req, ch := collect(Request{ID: "r1", ChatID: 1, Text: "hi"})
	require.NoError(t, s.Notify(context.Background(), req))

	res := wait(t, ch)
	assert.True(t, res.Delivered())
	assert.Equal(t, 3, res.Attempts)
}

func TestRetriesExhausted(t *testing.T) {
	s := startService(t, testConfig(), SenderFunc(func(context.Context, int64, string) error {
		return errors.New("timeout")
	}), func(error) FailureClass { return FailureTransient })

	req, ch := collect(Request{ID: "r1", ChatID: 1, Text: "hi"})
	require.NoError(t, s.Notify(context.Background(), req))

	res := wait(t, ch)
	assert.False(t, res.Delivered())
	assert.Equal(t, FailureTransient, res.Class)
	assert.Equal(t, 3, res.Attempts)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	s := startService(t, testConfig(), SenderFunc(func(context.Context, int64, string) error {
		calls.Add(1)
		return errors.New("Forbidden: bot was blocked by the user")
	}), ClassifyTelegramError)

	req, ch := collect(Request{ID: "r1", ChatID: 1, Text: "hi"})
	require.NoError(t, s.Notify(context.Background(), req))

	res := wait(t, ch)
	assert.Equal(t, FailurePermanent, res.Class)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmptyMessageIsPermanent(t *testing.T) {
	s := startService(t, testConfig(), SenderFunc(func(context.Context, int64, string) error {
		t.Error("sender must not be called")
		return nil
	}), nil)

	req, ch := collect(Request{ID: "r1", ChatID: 1})
	require.NoError(t, s.Notify(context.Background(), req))
	assert.Equal(t, FailurePermanent, wait(t, ch).Class)
}

func TestQueueFull(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	cfg := testConfig()
	cfg.QueueSize = 1

	s := startService(t, cfg, SenderFunc(func(context.Context, int64, string) error {
		entered <- struct{}{}
		<-release
		return nil
	}), nil)
	defer close(release)

	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, Request{ID: "a", Text: "a"}))
	<-entered
	require.NoError(t, s.Notify(ctx, Request{ID: "b", Text: "b"}))
	assert.Equal(t, 1, s.Pending())
	assert.ErrorIs(t, s.Notify(ctx, Request{ID: "c", Text: "c"}), ErrQueueFull)
}

func TestNotifyWhenStopped(t *testing.T) {
	s := New(testConfig(), SenderFunc(func(context.Context, int64, string) error { return nil }), nil, zerolog.Nop())
	assert.ErrorIs(t, s.Notify(context.Background(), Request{Text: "x"}), ErrStopped)

	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.ErrorIs(t, s.Notify(context.Background(), Request{Text: "x"}), ErrStopped)
}

func TestStopDrainsQueue(t *testing.T) {
	var delivered atomic.Int32
	s := New(testConfig(), SenderFunc(func(context.Context, int64, string) error {
		delivered.Add(1)
		return nil
	}), nil, zerolog.Nop())
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Notify(context.Background(), Request{Text: "x"}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, int32(5), delivered.Load())
}

func TestStopDeadlineCancelsInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.RetryMax = 0
	cfg.SendTimeout = time.Minute
	s := New(cfg, SenderFunc(func(ctx context.Context, _ int64, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}), ClassifyTelegramError, zerolog.Nop())
	s.Start(context.Background())

	req, ch := collect(Request{ID: "slow", Text: "x"})
	require.NoError(t, s.Notify(context.Background(), req))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	res := wait(t, ch)
	assert.Equal(t, FailureTransient, res.Class)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestCallbackPanicIsContained(t *testing.T) {
	done := make(chan struct{})
	s := startService(t, testConfig(), SenderFunc(func(context.Context, int64, string) error { return nil }), nil)

	require.NoError(t, s.Notify(context.Background(), Request{Text: "x", OnResult: func(Result) { panic("boom") }}))
	require.NoError(t, s.Notify(context.Background(), Request{Text: "y", OnResult: func(Result) { close(done) }}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after callback panic")
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := withDefaults(Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second})

	d := retryDelay(cfg, 1, errors.New("x"))
	assert.GreaterOrEqual(t, d, 70*time.Millisecond)
	assert.LessOrEqual(t, d, 130*time.Millisecond)

	d = retryDelay(cfg, 3, errors.New("x"))
	assert.GreaterOrEqual(t, d, 280*time.Millisecond)
	assert.LessOrEqual(t, d, 520*time.Millisecond)

	assert.LessOrEqual(t, retryDelay(cfg, 20, errors.New("x")), time.Second)

	assert.Equal(t, 300*time.Millisecond, retryDelay(cfg, 1, &telegramError{err: errors.New("429"), retryAfter: 300 * time.Millisecond}))
	assert.Equal(t, time.Second, retryDelay(cfg, 1, &telegramError{err: errors.New("429"), retryAfter: time.Minute}))
}
