package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smcscan/smcscan/internal/application/scheduler"
)

// runSchedule runs the recurring jobs from scheduler.yaml without the
// control API, for cron-style deployments.
func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := cfg.Scheduler.Build()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("scheduler.yaml has no jobs")
	}
	sched, err := scheduler.New(a.scans, jobs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sched.Start(ctx); err != nil {
		return err
	}
	log.Info().
		Int("jobs", len(jobs)).
		Str("venue", a.venue).
		Bool("archive", a.archive != nil).
		Msg("scheduler running")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	sched.Stop()
	return nil
}
