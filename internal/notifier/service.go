package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service implements an async delivery pipeline:
// queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      zerolog.Logger
	sender   Sender
	classify Classifier

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	workerWG  sync.WaitGroup

	queue  chan Request
	cancel context.CancelFunc
}

func New(cfg Config, sender Sender, classify Classifier, log zerolog.Logger) *Service {
	if classify == nil {
		classify = func(error) FailureClass { return FailureTransient }
	}
	cfg = withDefaults(cfg)
	return &Service{
		log:      log.With().Str("comp", "notifier").Logger(),
		sender:   sender,
		classify: classify,
		cfg:      cfg,
		// Token bucket: burst = rate per sec.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		// Telegram allows ~30 msg/s per bot across chats.
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return cfg
}

// Start launches the worker pool. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.queue = make(chan Request, s.cfg.QueueSize)
	s.accepting = true

	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(runCtx, q)
		}()
	}
	s.log.Debug().Int("workers", s.cfg.Workers).Int("queue", s.cfg.QueueSize).Msg("notifier started")
}

// Stop stops intake and drains the queue until ctx is done. Requests still
// queued after that are reported as transient failures.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.cancel
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues, then close so workers can drain.
	s.sendWG.Wait()
	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()

	s.mu.Lock()
	s.queue = nil
	s.cancel = nil
	s.mu.Unlock()
	s.log.Debug().Msg("notifier stopped")
}

// Notify enqueues a request. It never blocks on delivery.
func (s *Service) Notify(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports the number of queued requests.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Request) {
	for req := range q {
		res := s.deliver(ctx, req)
		s.report(req, res)
	}
}

func (s *Service) report(req Request, res Result) {
	if req.OnResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("request_id", req.ID).Interface("panic", r).Msg("result callback panicked")
		}
	}()
	req.OnResult(res)
}

func (s *Service) deliver(ctx context.Context, req Request) Result {
	res := Result{RequestID: req.ID}
	if req.Text == "" {
		res.Class = FailurePermanent
		res.Err = fmt.Errorf("empty message for request %s", req.ID)
		return res
	}

	maxAttempts := 1 + s.cfg.RetryMax
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		if err := s.limiter.Wait(ctx); err != nil {
			res.Class, res.Err = FailureTransient, err
			return res
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.sender.Send(callCtx, req.ChatID, req.Text)
		cancel()
		if err == nil {
			res.Class, res.Err = FailureNone, nil
			return res
		}

		res.Err = err
		res.Class = s.classify(err)
		s.log.Debug().Err(err).
			Str("request_id", req.ID).
			Int64("chat_id", req.ChatID).
			Int("attempt", attempt).
			Int("max", maxAttempts).
			Stringer("class", res.Class).
			Msg("send failed")

		if res.Class == FailurePermanent || attempt >= maxAttempts {
			return res
		}

		delay := retryDelay(s.cfg, attempt, err)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			res.Class, res.Err = FailureTransient, errors.Join(err, ctx.Err())
			return res
		}
	}
	return res
}

func retryDelay(cfg Config, attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		d := ra.RetryAfter()
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
		}
		return d
	}

	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
