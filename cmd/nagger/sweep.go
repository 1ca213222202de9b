package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nagger/internal/bot"
	"nagger/internal/notifier"
	"nagger/internal/reminder"
	"nagger/internal/repository"
)

var sweepDrain time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single reminder sweep, wait for deliveries and print the report",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepDrain, "drain", 30*time.Second, "how long to wait for queued deliveries")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.cfg.RequireToken(); err != nil {
		a.log.Error().Err(err).Msg("config")
		return err
	}

	api, err := bot.NewAPI(a.cfg.TelegramToken, a.log)
	if err != nil {
		a.log.Error().Err(err).Msg("telegram")
		return err
	}

	notif := notifier.New(notifierConfig(a.cfg), notifier.NewTelegramSender(api), notifier.ClassifyTelegramError, a.log)
	notif.Start(ctx)

	sched, err := reminder.NewScheduler(repository.NewStore(a.db), notif, a.log, reminder.Options{
		Policy:  a.cfg.Escalation,
		Workers: a.cfg.SweepWorkers,
	})
	if err != nil {
		return err
	}

	report, err := sched.Sweep(ctx)
	drainCtx, cancel := context.WithTimeout(context.Background(), sweepDrain)
	defer cancel()
	notif.Stop(drainCtx)
	if err != nil {
		a.log.Error().Err(err).Msg("sweep")
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Sweep  reminder.SweepReport `json:"sweep"`
		Totals reminder.Totals      `json:"totals"`
	}{report, sched.Totals()})
}
