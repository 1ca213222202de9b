package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"nagger/internal/config"
	"nagger/internal/logging"
	"nagger/internal/notifier"
	"nagger/internal/repository"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "nagger",
	Short: "Telegram bot that keeps reminding you about tasks until they are done",
	Long: `nagger stores tasks with deadlines and sends Telegram reminders on a
schedule that tightens as the deadline approaches.

Configuration comes from the environment, an optional .env file and an
optional YAML file (CONFIG_FILE, default config.yaml).

Examples:
  nagger serve
  nagger migrate
  nagger sweep`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// app holds what every command needs after startup.
type app struct {
	cfg config.Config
	log zerolog.Logger
	db  *gorm.DB
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if cfg.File != "" {
		log.Debug().Str("file", cfg.File).Msg("config file loaded")
	}

	db, err := repository.OpenAndMigrate(cfg.DatabaseURL, log)
	if err != nil {
		log.Error().Err(err).Msg("database")
		return nil, err
	}
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func notifierConfig(cfg config.Config) notifier.Config {
	return notifier.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		RatePerSec:  cfg.Notify.RatePerSec,
		RetryMax:    cfg.Notify.RetryMax,
		SendTimeout: 15 * time.Second,
	}
}
