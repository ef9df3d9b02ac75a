package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smcscan/smcscan/internal/application/scheduler"
	httpapi "github.com/smcscan/smcscan/internal/interfaces/http"
)

// runServe wires the full scanner and serves the control API until a
// shutdown signal arrives.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	serverCfg := httpapi.DefaultServerConfig()
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		serverCfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		serverCfg.Port = port
	} else if cfg.Env.HTTPPort > 0 {
		serverCfg.Port = cfg.Env.HTTPPort
	}

	var sched *scheduler.Scheduler
	if withSched, _ := cmd.Flags().GetBool("scheduler"); withSched {
		jobs, err := cfg.Scheduler.Build()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			log.Warn().Msg("scheduler requested but scheduler.yaml has no jobs")
		} else {
			sched, err = scheduler.New(a.scans, jobs)
			if err != nil {
				return err
			}
		}
	}

	deps := httpapi.HandlerDeps{
		Scans:     a.scans,
		Sched:     sched,
		Caches:    a.caches,
		Risk:      a.riskMgr,
		Cooldowns: a.cooldowns,
		Venues:    a.venues,
		Version:   version,
	}
	if a.archive != nil {
		deps.Signals = a.archive
	}
	server, err := httpapi.NewServer(serverCfg, httpapi.NewHandlers(deps))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Address()).
			Str("venue", a.venue).
			Bool("archive", a.archive != nil).
			Bool("scheduler", sched != nil).
			Msg("control API listening")
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		return err
	}
	log.Info().Msg("server shutdown complete")
	return nil
}
