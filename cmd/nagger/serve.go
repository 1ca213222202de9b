package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"nagger/internal/bot"
	"nagger/internal/config"
	"nagger/internal/health"
	"nagger/internal/notifier"
	"nagger/internal/reminder"
	"nagger/internal/repository"
	"nagger/internal/service"
)

// Poll periods without a sweep before /health reports the service as stale.
const staleSweeps = 5

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the reminder scheduler and the health endpoint",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	if err := cfg.RequireToken(); err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	quickWindow, err := reminder.ParseWindowRange(cfg.QuickWindow)
	if err != nil {
		return err
	}

	api, err := bot.NewAPI(cfg.TelegramToken, log)
	if err != nil {
		log.Error().Err(err).Msg("telegram")
		return err
	}

	store := repository.NewStore(a.db)

	notif := notifier.New(notifierConfig(cfg), notifier.NewTelegramSender(api), notifier.ClassifyTelegramError, log)
	notif.Start(ctx)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		notif.Stop(drainCtx)
	}()

	sched, err := reminder.NewScheduler(store, notif, log, reminder.Options{
		Policy:  cfg.Escalation,
		Workers: cfg.SweepWorkers,
	})
	if err != nil {
		return err
	}

	clock := reminder.SystemClock{}
	users := service.NewUserService(store.Users, cfg.Location())
	tasks := service.NewTaskService(store.Tasks, store.Deliveries, clock, cfg.MinInterval)
	reports := service.NewReportService(store.Tasks)
	telegramBot := bot.New(api, users, tasks, reports, sched, notif, quickWindow, log)

	timer := service.NewSchedulerService(time.UTC, log)
	if _, err := timer.ScheduleInterval(cfg.PollInterval, func() {
		if _, err := sched.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("sweep")
		}
	}); err != nil {
		return err
	}
	if cfg.ReportInterval > 0 {
		if _, err := timer.ScheduleInterval(cfg.ReportInterval, func() {
			jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := telegramBot.SendReports(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("report")
			}
		}); err != nil {
			return err
		}
	}
	timer.Start()
	defer timer.Stop()

	srv := health.New(sched, notif, staleSweeps*cfg.PollInterval, log)
	if err := srv.Start(cfg.HealthAddr); err != nil {
		log.Error().Err(err).Str("addr", cfg.HealthAddr).Msg("health server")
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	if cfg.File != "" {
		go func() {
			err := config.WatchPolicy(ctx, cfg.File, log, func(p reminder.Policy) {
				if err := cfg.CheckPolicy(p); err != nil {
					log.Warn().Err(err).Msg("escalation policy rejected")
					return
				}
				if err := sched.SetPolicy(p); err != nil {
					log.Warn().Err(err).Msg("escalation policy rejected")
				}
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	log.Info().
		Dur("poll", cfg.PollInterval).
		Stringer("policy", sched.Policy()).
		Str("version", Version).
		Msg("nagger started")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot stopped with error")
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
