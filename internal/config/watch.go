package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"nagger/internal/reminder"
)

const reloadDebounce = 250 * time.Millisecond

// WatchPolicy watches the config file and calls apply with the escalation
// policy every time the file changes and still parses. It blocks until ctx is
// done.
func WatchPolicy(ctx context.Context, path string, log zerolog.Logger, apply func(reminder.Policy)) error {
	if path == "" {
		return errors.New("no config file to watch")
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	log = log.With().Str("comp", "config").Str("path", path).Logger()

	var (
		timerMu sync.Mutex
		timer   *time.Timer
		last    string
	)
	reload := func() {
		policy, err := ReadPolicy(path)
		if err != nil {
			log.Warn().Err(err).Msg("config reload failed; keeping current policy")
			return
		}
		timerMu.Lock()
		unchanged := policy.String() == last
		last = policy.String()
		timerMu.Unlock()
		if unchanged {
			return
		}
		apply(policy)
		log.Info().Stringer("policy", policy).Msg("escalation policy reloaded")
	}
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	if p, err := ReadPolicy(path); err == nil {
		last = p.String()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors replace files with rename, so watch the directory.
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug().Msg("config watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn().Err(err).Msg("config watch overflow; forcing reload")
				debounce()
				continue
			}
			log.Warn().Err(err).Msg("config watch error")
		}
	}
}
