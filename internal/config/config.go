package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nagger/internal/reminder"
)

// DefaultFile is read when CONFIG_FILE is unset and the file exists.
const DefaultFile = "config.yaml"

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken string
	DatabaseURL   string

	LogLevel  string
	LogFormat string

	HealthAddr string

	PollInterval    time.Duration
	MinInterval     time.Duration
	SweepWorkers    int
	DefaultTimezone string
	QuickWindow     string
	Escalation      reminder.Policy

	Notify NotifyConfig

	ReportInterval time.Duration

	// File is the YAML file the config came from, empty when none.
	File string
}

type NotifyConfig struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
}

// fileConfig mirrors the YAML layout. Durations are strings ("90s", "5m").
type fileConfig struct {
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`
	Scheduler struct {
		PollInterval    string `yaml:"poll_interval"`
		MinInterval     string `yaml:"min_interval"`
		Workers         int    `yaml:"workers"`
		DefaultTimezone string `yaml:"default_timezone"`
		QuickWindow     string `yaml:"quick_window"`
		ReportInterval  string `yaml:"report_interval"`
	} `yaml:"scheduler"`
	Escalation struct {
		Floor string   `yaml:"floor"`
		Bands []string `yaml:"bands"`
	} `yaml:"escalation"`
	Notify struct {
		Workers    int `yaml:"workers"`
		QueueSize  int `yaml:"queue_size"`
		RatePerSec int `yaml:"rate_per_sec"`
		RetryMax   int `yaml:"retry_max"`
	} `yaml:"notify"`
}

func defaults() Config {
	return Config{
		DatabaseURL:     "nagger.db",
		LogLevel:        "info",
		LogFormat:       "console",
		HealthAddr:      ":10000",
		PollInterval:    time.Minute,
		SweepWorkers:    4,
		DefaultTimezone: "UTC",
		QuickWindow:     "08:00-22:00",
		Escalation:      reminder.DefaultPolicy(),
		Notify: NotifyConfig{
			Workers:    2,
			QueueSize:  512,
			RatePerSec: 25,
			RetryMax:   3,
		},
	}
}

// Load reads .env, an optional YAML file and environment variables, in that
// order of increasing precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.applyFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	} else {
		cfg.File = path
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = max(cfg.PollInterval, cfg.Escalation.Floor)
	}
	return cfg, cfg.Validate()
}

// ReadPolicy loads only the escalation section of a YAML file on top of the
// defaults. It is used for hot reload.
func ReadPolicy(path string) (reminder.Policy, error) {
	cfg := defaults()
	if err := cfg.applyFile(path); err != nil {
		return reminder.Policy{}, err
	}
	if err := cfg.Escalation.Validate(); err != nil {
		return reminder.Policy{}, err
	}
	return cfg.Escalation, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.TelegramToken, fc.Telegram.Token)
	setString(&c.DatabaseURL, fc.Database.URL)
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	setString(&c.HealthAddr, fc.Health.Addr)
	setString(&c.DefaultTimezone, fc.Scheduler.DefaultTimezone)
	setString(&c.QuickWindow, fc.Scheduler.QuickWindow)
	setInt(&c.SweepWorkers, fc.Scheduler.Workers)
	setInt(&c.Notify.Workers, fc.Notify.Workers)
	setInt(&c.Notify.QueueSize, fc.Notify.QueueSize)
	setInt(&c.Notify.RatePerSec, fc.Notify.RatePerSec)
	setInt(&c.Notify.RetryMax, fc.Notify.RetryMax)

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Scheduler.PollInterval, &c.PollInterval},
		{fc.Scheduler.MinInterval, &c.MinInterval},
		{fc.Scheduler.ReportInterval, &c.ReportInterval},
		{fc.Escalation.Floor, &c.Escalation.Floor},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, path, d.raw); err != nil {
			return err
		}
	}

	if len(fc.Escalation.Bands) > 0 {
		bands, err := reminder.ParseBands(strings.Join(fc.Escalation.Bands, ","))
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		c.Escalation.Bands = bands
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	setString(&c.TelegramToken, env("TELEGRAM_TOKEN"))
	setString(&c.DatabaseURL, env("DATABASE_URL"))
	setString(&c.LogLevel, env("LOG_LEVEL"))
	setString(&c.LogFormat, env("LOG_FORMAT"))
	setString(&c.DefaultTimezone, env("DEFAULT_TIMEZONE"))
	setString(&c.QuickWindow, env("QUICK_WINDOW"))
	setString(&c.HealthAddr, env("HEALTH_ADDR"))
	if port := env("PORT"); port != "" && env("HEALTH_ADDR") == "" {
		c.HealthAddr = ":" + port
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &c.PollInterval},
		{"MIN_INTERVAL", &c.MinInterval},
		{"ESCALATION_FLOOR", &c.Escalation.Floor},
		{"REPORT_INTERVAL", &c.ReportInterval},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key, env(d.key)); err != nil {
			return err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SWEEP_WORKERS", &c.SweepWorkers},
		{"NOTIFY_WORKERS", &c.Notify.Workers},
		{"NOTIFY_QUEUE", &c.Notify.QueueSize},
		{"NOTIFY_RATE", &c.Notify.RatePerSec},
		{"NOTIFY_RETRIES", &c.Notify.RetryMax},
	}
	for _, i := range ints {
		raw := env(i.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}

	if raw := env("ESCALATION_BANDS"); raw != "" {
		bands, err := reminder.ParseBands(raw)
		if err != nil {
			return fmt.Errorf("ESCALATION_BANDS: %w", err)
		}
		c.Escalation.Bands = bands
	}
	return nil
}

// Validate checks values that would make the scheduler misbehave.
func (c Config) Validate() error {
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval %s is below 1s", c.PollInterval)
	}
	if c.MinInterval < c.PollInterval {
		return fmt.Errorf("minimum reminder interval %s is below the poll interval %s", c.MinInterval, c.PollInterval)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("default timezone: %w", err)
	}
	if _, err := reminder.ParseWindowRange(c.QuickWindow); err != nil {
		return fmt.Errorf("quick window: %w", err)
	}
	if err := c.CheckPolicy(c.Escalation); err != nil {
		return err
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("report interval must not be negative")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format %q, expected console or json", c.LogFormat)
	}
	return nil
}

// CheckPolicy validates an escalation policy against the minimum reminder
// interval. A floor above it would let escalation lengthen intervals.
func (c Config) CheckPolicy(p reminder.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Floor > c.MinInterval {
		return fmt.Errorf("%w: floor %s is above the minimum reminder interval %s", reminder.ErrInvalidPolicy, p.Floor, c.MinInterval)
	}
	return nil
}

// RequireToken reports a missing bot token.
func (c Config) RequireToken() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}

// Location returns the default timezone. Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
