// Package health serves liveness and sweep status over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nagger/internal/reminder"
)

// Source reports scheduler progress.
type Source interface {
	LastSweep() reminder.SweepReport
	Totals() reminder.Totals
}

// QueueDepth reports how many deliveries wait in the notifier.
type QueueDepth interface {
	Pending() int
}

type Status struct {
	Healthy   bool                 `json:"healthy"`
	Uptime    string               `json:"uptime"`
	LastSweep reminder.SweepReport `json:"last_sweep"`
	SweepAge  string               `json:"sweep_age,omitempty"`
	Totals    reminder.Totals      `json:"totals"`
	Pending   int                  `json:"pending"`
}

// Server exposes /, /health and /status.
type Server struct {
	mu      sync.Mutex
	log     zerolog.Logger
	source  Source
	queue   QueueDepth
	maxAge  time.Duration
	started time.Time
	now     func() time.Time

	srv  *http.Server
	addr string
}

// New builds a server. The service counts as unhealthy when the last sweep
// started more than maxAge ago, or when none has run maxAge after start.
func New(source Source, queue QueueDepth, maxAge time.Duration, log zerolog.Logger) *Server {
	return &Server{
		log:     log.With().Str("comp", "health").Logger(),
		source:  source,
		queue:   queue,
		maxAge:  maxAge,
		started: time.Now(),
		now:     time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("nagger is running\n"))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !s.Status().Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("STALE\n"))
			return
		}
		_, _ = w.Write([]byte("OK\n"))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		st := s.Status()
		w.Header().Set("Content-Type", "application/json")
		if !st.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	})
	return mux
}

// Status snapshots the scheduler state.
func (s *Server) Status() Status {
	now := s.now()
	st := Status{
		Uptime:    now.Sub(s.started).Round(time.Second).String(),
		LastSweep: s.source.LastSweep(),
		Totals:    s.source.Totals(),
	}
	if s.queue != nil {
		st.Pending = s.queue.Pending()
	}

	ref := s.started
	if !st.LastSweep.StartedAt.IsZero() {
		ref = st.LastSweep.StartedAt
		st.SweepAge = now.Sub(ref).Round(time.Second).String()
	}
	st.Healthy = s.maxAge <= 0 || now.Sub(ref) <= s.maxAge
	return st
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn().Err(err).Str("addr", s.addr).Msg("health server error")
		}
	}()
	s.log.Info().Str("addr", s.addr).Msg("health server listening")
	return nil
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn().Err(err).Msg("health shutdown error")
	}
}
