package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smcscan/smcscan/internal/application/pipeline"
	"github.com/smcscan/smcscan/internal/application/scan"
	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/dominance"
	"github.com/smcscan/smcscan/internal/data/exchange"
	"github.com/smcscan/smcscan/internal/infrastructure/config"
	"github.com/smcscan/smcscan/internal/persistence/postgres"
	"github.com/smcscan/smcscan/internal/risk"
	"github.com/smcscan/smcscan/internal/telemetry"
)

// app bundles the wired scanner services a command runs with.
type app struct {
	cfg       *config.Config
	venue     string
	venues    *exchange.Registry
	caches    *cache.Manager
	riskMgr   *risk.Manager
	sizer     *risk.Sizer
	cooldowns *risk.CooldownStore
	dom       *dominance.Provider
	metrics   *telemetry.Metrics
	archive   *postgres.Archive
	scans     *scan.Manager
}

// loadConfig reads the config directory and environment for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("config")
	return config.LoadAll(dir, config.ReadEnv())
}

// newVenues builds the venue registry from exchanges.yaml. Live venues sit
// behind the shared retry, rate-limit, and circuit-breaker stack; the fake
// venue stays bare.
func newVenues(cfg *config.Config) (*exchange.Registry, error) {
	circuits, err := cfg.Exchanges.Circuits()
	if err != nil {
		return nil, err
	}
	limiter := exchange.NewVenueLimiter(cfg.Exchanges.RateLimits(), exchange.RateConfig{})
	breakers := exchange.NewBreakerSet(circuits, exchange.DefaultCircuitConfig())

	kraken := cfg.Exchanges.Venue("kraken")
	venues := exchange.NewRegistry()
	venues.Register(exchange.WrapResilient(
		exchange.NewKrakenAdapterAt(kraken.BaseURL, kraken.WSURL),
		exchange.DefaultRetryPolicy(), limiter, breakers))
	venues.Register(exchange.NewFakeAdapter("fake"))
	return venues, nil
}

// newApp wires the scanner. offline forces the deterministic fake venue so
// scans run without network access or API keys.
func newApp(cfg *config.Config, offline bool) (*app, error) {
	venue := cfg.App.Exchange
	if offline {
		venue = "fake"
	}

	venues, err := newVenues(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := venues.Get(venue); err != nil {
		return nil, fmt.Errorf("venue %q not configured (have %v)", venue, venues.Names())
	}

	cacheCfg, err := cfg.Cache.Build()
	if err != nil {
		return nil, err
	}
	caches := cache.NewManager(cacheCfg)

	a := &app{
		cfg:     cfg,
		venue:   venue,
		venues:  venues,
		caches:  caches,
		metrics: telemetry.Default(),
	}

	a.riskMgr, err = risk.NewManager(cfg.Risk.Balance, cfg.Risk.Limits)
	if err != nil {
		caches.Stop()
		return nil, err
	}
	a.sizer = risk.NewSizer(cfg.Risk.Sizer)

	a.cooldowns, err = risk.NewCooldownStore(cfg.Env.CacheDir)
	if err != nil {
		caches.Stop()
		return nil, err
	}

	a.dom = dominance.New(dominance.Config{
		CoinGeckoKey:     cfg.Env.CoinGeckoKey,
		CryptoCompareKey: cfg.Env.CryptoCompareKey,
		CacheDir:         cfg.Env.CacheDir,
	})

	macro, err := cfg.Cycles.FourYear(time.Now().UTC())
	if err != nil {
		caches.Stop()
		return nil, err
	}
	deadline, err := cfg.App.DeadlineDuration()
	if err != nil {
		caches.Stop()
		return nil, err
	}

	base := pipeline.Config{
		Mode:         cfg.App.Mode,
		Workers:      cfg.App.Workers,
		Bars:         cfg.App.Bars,
		MarketSymbol: cfg.App.MarketSymbol,
		RiskPct:      cfg.App.RiskPct,
		Leverage:     cfg.App.Leverage,
		Deadline:     deadline,
		Macro:        &macro,
	}
	if p, ok := cfg.Modes.Profile(base.Mode); ok {
		if p.MinConfluenceScore > 0 {
			base.MinScore = p.MinConfluenceScore
		}
		if p.Weights != nil {
			base.Weights = p.Weights
		}
		base.Thresholds = p.RegimeThresholds
	}

	// DATABASE_URL set means the operator wants the archive; a dead
	// database should fail loudly here, not drop signals mid-run.
	if cfg.Env.DatabaseURL != "" {
		a.archive, err = postgres.Open(postgres.Config{DSN: cfg.Env.DatabaseURL})
		if err != nil {
			caches.Stop()
			return nil, fmt.Errorf("signal archive: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = a.archive.EnsureSchema(ctx)
		cancel()
		if err != nil {
			a.archive.Close()
			caches.Stop()
			return nil, fmt.Errorf("signal archive schema: %w", err)
		}
	}

	mgrCfg := scan.ManagerConfig{
		Venue:        venue,
		ArtifactsDir: cfg.App.ArtifactsDir,
		Keep:         cfg.App.KeepScans,
		Base:         base,
	}
	if a.archive != nil {
		mgrCfg.Archive = a.archive
	}
	a.scans = scan.NewManager(mgrCfg, venues, pipeline.Deps{
		Cache:     caches,
		Risk:      a.riskMgr,
		Sizer:     a.sizer,
		Cooldowns: a.cooldowns,
		Dominance: a.dom,
		Metrics:   a.metrics,
	})
	return a, nil
}

// Close cancels running jobs and releases the shared services.
func (a *app) Close() {
	a.scans.Shutdown()
	a.caches.Stop()
	if a.archive != nil {
		_ = a.archive.Close()
	}
}
