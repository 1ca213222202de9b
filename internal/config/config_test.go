package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nagger/internal/reminder"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "nagger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TELEGRAM_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.MinInterval)
	assert.Equal(t, "UTC", cfg.DefaultTimezone)
	assert.Equal(t, "08:00-22:00", cfg.QuickWindow)
	assert.Equal(t, reminder.DefaultPolicy(), cfg.Escalation)
	assert.Empty(t, cfg.File)
	assert.Error(t, cfg.RequireToken())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("NAGGER_SECRET", "from-env")
	path := writeFile(t, dir, `
telegram:
  token: ${NAGGER_SECRET}
scheduler:
  poll_interval: 30s
  min_interval: 5m
  default_timezone: Europe/Berlin
escalation:
  floor: 2m
  bands: ["15m:2m", "1h:10m"]
notify:
  workers: 3
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("NOTIFY_WORKERS", "5")
	t.Setenv("PORT", "8081")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "from-env", cfg.TelegramToken)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.MinInterval)
	assert.Equal(t, "Europe/Berlin", cfg.DefaultTimezone)
	assert.Equal(t, 2*time.Minute, cfg.Escalation.Floor)
	assert.Equal(t, []reminder.Band{
		{Within: 15 * time.Minute, Interval: 2 * time.Minute},
		{Within: time.Hour, Interval: 10 * time.Minute},
	}, cfg.Escalation.Bands)
	assert.Equal(t, 5, cfg.Notify.Workers)
	assert.Equal(t, ":8081", cfg.HealthAddr)
	assert.NoError(t, cfg.RequireToken())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", "does-not-exist.yaml")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"bad poll":     {"POLL_INTERVAL", "soon"},
		"min below":    {"MIN_INTERVAL", "10s"},
		"below floor":  {"MIN_INTERVAL", "2m"},
		"bad zone":     {"DEFAULT_TIMEZONE", "Mars/Olympus"},
		"bad window":   {"QUICK_WINDOW", "8-22"},
		"bad bands":    {"ESCALATION_BANDS", "10m"},
		"bad workers":  {"SWEEP_WORKERS", "four"},
		"bad format":   {"LOG_FORMAT", "xml"},
		"negative rep": {"REPORT_INTERVAL", "-1h"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("CONFIG_FILE", "")
			t.Setenv(kv[0], kv[1])

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestCheckPolicyFloor(t *testing.T) {
	cfg := Config{MinInterval: 5 * time.Minute}
	assert.NoError(t, cfg.CheckPolicy(reminder.DefaultPolicy()))

	p := reminder.DefaultPolicy()
	p.Floor = 10 * time.Minute
	assert.ErrorIs(t, cfg.CheckPolicy(p), reminder.ErrInvalidPolicy)
	assert.ErrorIs(t, cfg.CheckPolicy(reminder.Policy{}), reminder.ErrInvalidPolicy)
}

func TestWatchPolicyReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "escalation:\n  floor: 5m\n")

	var (
		mu  sync.Mutex
		got []reminder.Policy
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchPolicy(ctx, path, zerolog.Nop(), func(p reminder.Policy) {
			mu.Lock()
			got = append(got, p)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("escalation:\n  floor: 3m\n"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Floor == 3*time.Minute
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
