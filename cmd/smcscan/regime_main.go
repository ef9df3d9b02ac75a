package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smcscan/smcscan/internal/application/scan"
	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/domain/regime"
)

// runRegime samples the market symbol through a one-symbol scan and
// prints the resulting composite regime.
func runRegime(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	venueFlag, _ := cmd.Flags().GetString("exchange")
	offline, _ := cmd.Flags().GetBool("offline")
	asJSON, _ := cmd.Flags().GetBool("json")

	if venueFlag != "" {
		cfg.App.Exchange = venueFlag
	}
	a, err := newApp(cfg, offline)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := a.scans.Create(scan.Params{Limit: 1})
	if err != nil {
		return err
	}
	snap, err = waitForScan(ctx, a.scans, snap.ID)
	if err != nil {
		return err
	}
	if snap.Status == scan.StatusFailed {
		return fmt.Errorf("regime detection failed: %s", snap.Error)
	}

	entry, ok := a.caches.Regime().Get(cache.RegimeGlobalKey)
	if !ok {
		return errors.New("no regime observation produced")
	}
	reg, ok := entry.(regime.Regime)
	if !ok {
		return errors.New("unexpected regime cache entry")
	}

	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		return printJSON(os.Stdout, reg)
	}
	renderRegime(reg)
	return nil
}

func renderRegime(reg regime.Regime) {
	t := newTable("MARKET REGIME")
	t.AppendRows([]table.Row{
		{"Composite", reg.Composite},
		{"Score", fmt.Sprintf("%.1f", reg.Score)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trend", fmt.Sprintf("%s (%.0f)", reg.Trend, reg.TrendScore)},
		{"Volatility", fmt.Sprintf("%s (%.0f)", reg.Volatility, reg.VolScore)},
		{"Liquidity", fmt.Sprintf("%s (%.0f)", reg.Liquidity, reg.LiqScore)},
		{"Risk appetite", fmt.Sprintf("%s (%.0f)", reg.RiskAppetite, reg.RiskScore)},
		{"Derivatives", fmt.Sprintf("%s (%.0f)", reg.Derivatives, reg.DerivScore)},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Detected", reg.DetectedAt.Format("2006-01-02 15:04:05 MST")})
	t.Render()
}
