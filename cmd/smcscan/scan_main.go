package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smcscan/smcscan/internal/application/pipeline"
	"github.com/smcscan/smcscan/internal/application/scan"
)

// runScan executes one scan in-process and prints the outcome.
func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	symbolsCSV, _ := cmd.Flags().GetString("symbols")
	limit, _ := cmd.Flags().GetInt("limit")
	quote, _ := cmd.Flags().GetString("quote")
	mode, _ := cmd.Flags().GetString("mode")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	leverage, _ := cmd.Flags().GetFloat64("leverage")
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

	params := scan.Params{
		Limit:    limit,
		Quote:    quote,
		Mode:     mode,
		MinScore: minScore,
		Leverage: leverage,
		Symbols:  splitSymbols(symbolsCSV),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := a.scans.Create(params)
	if err != nil {
		return err
	}
	log.Info().Str("run_id", snap.ID).Str("venue", a.venue).Msg("scan started")

	snap, err = waitForScan(ctx, a.scans, snap.ID)
	if err != nil {
		return err
	}

	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		if err := printJSON(os.Stdout, snap); err != nil {
			return err
		}
	} else {
		renderScan(snap)
	}
	if snap.Status == scan.StatusFailed {
		return fmt.Errorf("scan failed: %s", snap.Error)
	}
	return nil
}

func splitSymbols(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// waitForScan polls until the job is terminal. An interrupt cancels the
// job and returns its last snapshot.
func waitForScan(ctx context.Context, scans *scan.Manager, id string) (scan.Snapshot, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap, ok := scans.Get(id)
		if !ok {
			return scan.Snapshot{}, fmt.Errorf("scan %s not found", id)
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			log.Warn().Str("run_id", id).Msg("interrupted, cancelling scan")
			if snap, err := scans.Cancel(id); err == nil {
				return snap, nil
			}
			return snap, nil
		case <-ticker.C:
		}
	}
}

func renderScan(snap scan.Snapshot) {
	t := newTable("SCAN " + snap.ID[:8])
	t.AppendRows([]table.Row{
		{"Status", string(snap.Status)},
		{"Venue", orDash(snap.Params.Exchange)},
		{"Market regime", orDash(snap.MarketRegime)},
		{"Scanned", fmt.Sprintf("%d/%d", snap.Progress.Completed, snap.Progress.Total)},
		{"Signals", len(snap.Signals)},
		{"Duration", (time.Duration(snap.DurationMS) * time.Millisecond).String()},
	})
	if snap.Artifact != "" {
		t.AppendRow(table.Row{"Artifact", snap.Artifact})
	}
	if snap.Error != "" {
		t.AppendRow(table.Row{"Error", snap.Error})
	}
	t.Render()
	fmt.Println()

	if len(snap.Signals) > 0 {
		renderSignals(snap.Signals)
		fmt.Println()
	}
	if len(snap.ByReason) > 0 {
		renderRejections(snap.ByReason)
		fmt.Println()
	}
}

func renderSignals(signals []pipeline.Signal) {
	t := newTable("SIGNALS")
	t.AppendHeader(table.Row{"SYMBOL", "DIR", "SCORE", "REGIME", "ENTRY", "STOP", "TARGETS", "SIZE"})
	for _, s := range signals {
		targets := make([]string, 0, len(s.Targets))
		for _, tp := range s.Targets {
			targets = append(targets, formatPrice(tp))
		}
		size := "-"
		if s.Size != nil {
			size = fmt.Sprintf("%.4f (%s)", s.Size.Quantity, formatUSD(s.Size.Notional))
		}
		t.AppendRow(table.Row{
			s.Symbol,
			string(s.Direction),
			fmt.Sprintf("%.1f", s.Score),
			s.Regime,
			fmt.Sprintf("%s..%s", formatPrice(s.Entry.Low), formatPrice(s.Entry.High)),
			formatPrice(s.Stop),
			strings.Join(targets, " "),
			size,
		})
	}
	t.Render()
}

func renderRejections(byReason map[string]int) {
	t := newTable("REJECTIONS")
	t.AppendHeader(table.Row{"REASON", "COUNT"})
	for _, reason := range sortedKeys(byReason) {
		t.AppendRow(table.Row{reason, byReason[reason]})
	}
	t.Render()
}
