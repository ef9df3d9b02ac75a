package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smcscan/smcscan/internal/infrastructure/config"
)

const (
	appName = "smcscan"
	version = "v0.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-symbol smart-money confluence scanner",
		Version: version,
		Long: `smcscan ranks crypto perpetuals by smart-money confluence: order blocks,
fair value gaps, liquidity sweeps, and structure breaks scored across
timeframes under the detected market regime.

One-shot scans print ranked signals; 'serve' exposes the same scans over a
control API with Prometheus metrics and optional recurring jobs.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			envFile, _ := cmd.Flags().GetString("env-file")
			config.LoadDotEnv(envFile)
			applyLogLevel(config.ReadEnv().LogLevel)
		},
	}
	rootCmd.PersistentFlags().String("config", "./config", "Config directory")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to the .env file")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a one-shot confluence scan",
		Long:  "Scan the configured universe (or --symbols) and print ranked signals.",
		RunE:  runScan,
	}
	scanCmd.Flags().String("symbols", "", "Comma-separated symbols, overrides universe discovery")
	scanCmd.Flags().Int("limit", 0, "Universe size when discovering symbols")
	scanCmd.Flags().String("quote", "", "Quote currency for universe discovery")
	scanCmd.Flags().String("mode", "", "Scanner mode (macro_surveillance|stealth_balanced|intraday_aggressive|precision)")
	scanCmd.Flags().Float64("min-score", 0, "Confluence threshold override")
	scanCmd.Flags().Float64("leverage", 0, "Leverage for position sizing")
	scanCmd.Flags().String("exchange", "", "Venue to scan (kraken|fake)")
	scanCmd.Flags().Bool("offline", false, "Use the deterministic offline venue")
	scanCmd.Flags().Bool("json", false, "Emit the full result as JSON")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan control API",
		Long:  "Serve scans, regime, risk, and cooldown endpoints plus /metrics.",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "", "Bind host (default 127.0.0.1)")
	serveCmd.Flags().Int("port", 0, "Bind port (default 8080, or HTTP_PORT)")
	serveCmd.Flags().Bool("scheduler", false, "Run the recurring jobs from scheduler.yaml")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the recurring scan jobs without the control API",
		Long:  "Run the jobs from scheduler.yaml until interrupted.",
		RunE:  runSchedule,
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live tickers to stdout",
		Long:  "Subscribe to the venue's ticker stream for a set of symbols.",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("symbols", "", "Comma-separated symbols (default: the market symbol)")
	watchCmd.Flags().String("exchange", "", "Venue to stream from (kraken|fake)")
	watchCmd.Flags().Bool("offline", false, "Use the deterministic offline venue")

	regimeCmd := &cobra.Command{
		Use:   "regime",
		Short: "Detect and print the market regime",
		Long:  "Sample the market symbol and print the composite regime read.",
		RunE:  runRegime,
	}
	regimeCmd.Flags().String("exchange", "", "Venue to sample (kraken|fake)")
	regimeCmd.Flags().Bool("offline", false, "Use the deterministic offline venue")
	regimeCmd.Flags().Bool("json", false, "Emit the regime as JSON")

	cooldownsCmd := &cobra.Command{
		Use:   "cooldowns",
		Short: "Inspect and clear signal cooldowns",
	}
	cooldownsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List active cooldowns",
		RunE:  runCooldownsList,
	}
	cooldownsClearCmd := &cobra.Command{
		Use:   "clear [symbol]",
		Short: "Clear cooldowns for a symbol, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCooldownsClear,
	}
	cooldownsClearCmd.Flags().String("direction", "", "Only clear one direction (LONG|SHORT)")
	cooldownsCmd.AddCommand(cooldownsListCmd)
	cooldownsCmd.AddCommand(cooldownsClearCmd)

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scan jobs on a running server",
	}
	jobsCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Base URL of the control API")
	jobsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List retained scan jobs",
		RunE:  runJobsList,
	}
	jobsGetCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one scan job with its signals",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsGet,
	}
	jobsGetCmd.Flags().Bool("json", false, "Emit the job as JSON")
	jobsCancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running scan job",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsCancel,
	}
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the smcscan version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(regimeCmd)
	rootCmd.AddCommand(cooldownsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func applyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
