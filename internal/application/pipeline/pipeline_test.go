package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/dominance"
	"github.com/smcscan/smcscan/internal/data/exchange"
	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/domain/score"
	"github.com/smcscan/smcscan/internal/risk"
	"github.com/smcscan/smcscan/internal/telemetry"
)

type stubDominance struct {
	snap dominance.Snapshot
	err  error
}

func (s stubDominance) Fetch(ctx context.Context) (dominance.Snapshot, error) {
	return s.snap, s.err
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *telemetry.MemorySink) {
	t.Helper()

	mgr := cache.NewManager(cache.Config{})
	t.Cleanup(mgr.Stop)

	rm, err := risk.NewManager(10000, risk.DefaultLimits())
	require.NoError(t, err)

	cds, err := risk.NewCooldownStore(t.TempDir())
	require.NoError(t, err)

	sink := telemetry.NewMemorySink()
	r, err := New(cfg, Deps{
		Adapter:   exchange.NewSeededFakeAdapter("fake", 42),
		Cache:     mgr,
		Risk:      rm,
		Cooldowns: cds,
		Dominance: stubDominance{snap: dominance.Snapshot{BTCDom: 52, StableDom: 7}},
		Sink:      sink,
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return r, sink
}

func TestNewValidatesDeps(t *testing.T) {
	mgr := cache.NewManager(cache.Config{})
	t.Cleanup(mgr.Stop)
	rm, err := risk.NewManager(10000, risk.DefaultLimits())
	require.NoError(t, err)
	cds, err := risk.NewCooldownStore(t.TempDir())
	require.NoError(t, err)
	adapter := exchange.NewFakeAdapter("fake")

	full := Deps{Adapter: adapter, Cache: mgr, Risk: rm, Cooldowns: cds}

	cases := []struct {
		name  string
		strip func(d Deps) Deps
	}{
		{"missing_adapter", func(d Deps) Deps { d.Adapter = nil; return d }},
		{"missing_cache", func(d Deps) Deps { d.Cache = nil; return d }},
		{"missing_risk", func(d Deps) Deps { d.Risk = nil; return d }},
		{"missing_cooldowns", func(d Deps) Deps { d.Cooldowns = nil; return d }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(Config{}, tc.strip(full))
			assert.Error(t, err)
		})
	}

	t.Run("unknown_mode", func(t *testing.T) {
		_, err := New(Config{Mode: "warp_speed"}, full)
		assert.Error(t, err)
	})
}

func TestNewFillsModeDefaults(t *testing.T) {
	r, _ := newTestRunner(t, Config{})

	assert.Equal(t, regime.ModeStealthBalanced, r.cfg.Mode)
	assert.Equal(t, DefaultWorkers, r.cfg.Workers)
	assert.Equal(t, score.MinConfluenceFor(regime.ModeStealthBalanced), r.minScore)
	assert.Equal(t, ohlcv.TF1h, r.cfg.EntryTF)
	assert.Equal(t, ohlcv.TF4h, r.cfg.PrimaryHTF)
	assert.True(t, containsTF(r.cfg.Timeframes, ohlcv.TF4h))
	assert.Equal(t, DefaultBars, r.cfg.Bars)
	assert.Equal(t, DefaultMarketSymbol, r.cfg.MarketSymbol)
	assert.Equal(t, 1.0, r.cfg.Leverage)

	t.Run("workers_clamped", func(t *testing.T) {
		r, _ := newTestRunner(t, Config{Workers: 99})
		assert.Equal(t, MaxWorkers, r.cfg.Workers)
	})

	t.Run("intraday_profile", func(t *testing.T) {
		r, _ := newTestRunner(t, Config{Mode: regime.ModeIntradayAggressive})
		assert.Equal(t, ohlcv.TF15m, r.cfg.EntryTF)
		assert.True(t, containsTF(r.cfg.Timeframes, ohlcv.TF5m))
	})

	t.Run("primary_htf_always_fetched", func(t *testing.T) {
		r, _ := newTestRunner(t, Config{Timeframes: []ohlcv.Timeframe{ohlcv.TF1h}})
		assert.True(t, containsTF(r.cfg.Timeframes, ohlcv.TF4h))
	})
}

func TestRunAccountsEverySymbol(t *testing.T) {
	r, sink := newTestRunner(t, Config{Workers: 2})

	var progress atomic.Int32
	res, err := r.Run(context.Background(), Request{
		RunID:   "run-accounting",
		Symbols: []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
		OnProgress: func(completed, total int, symbol string, sig *Signal, rej *Rejection) {
			progress.Add(1)
			assert.Equal(t, 3, total)
			assert.True(t, (sig == nil) != (rej == nil), "exactly one outcome per symbol")
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-accounting", res.RunID)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Scanned)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 3, len(res.Signals)+len(res.Rejections))
	assert.Equal(t, int32(3), progress.Load())
	assert.Greater(t, res.Duration, time.Duration(0))
	assert.NotEmpty(t, res.Market.Composite)

	for _, sig := range res.Signals {
		assert.Equal(t, "run-accounting", sig.RunID)
		assert.Contains(t, []score.Direction{score.DirLong, score.DirShort}, sig.Direction)
		assert.NotEqual(t, sig.EntryPrice, sig.Stop)
		assert.Len(t, sig.Targets, 2)
		require.NotNil(t, sig.Size)
		assert.Greater(t, sig.Size.Quantity, 0.0)
		assert.GreaterOrEqual(t, sig.Score, r.minScore)
	}
	for _, rej := range res.Rejections {
		assert.NotEmpty(t, rej.Stage)
		assert.NotEmpty(t, rej.Reason)
	}

	byReason := res.RejectionsByReason()
	total := 0
	for _, n := range byReason {
		total += n
	}
	assert.Equal(t, len(res.Rejections), total)

	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, telemetry.EventScanStarted, events[0].Type)
	assert.Equal(t, telemetry.EventScanCompleted, events[len(events)-1].Type)

	counts := map[string]int{}
	var lastSeq uint64
	for _, ev := range events {
		counts[ev.Type]++
		assert.Greater(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
	}
	assert.Equal(t, 1, counts[telemetry.EventScanStarted])
	assert.Equal(t, 3, counts[telemetry.EventSymbolStarted])
	assert.Equal(t, 3, counts[telemetry.EventSignalGenerated]+counts[telemetry.EventSignalRejected])
	assert.Equal(t, 1, counts[telemetry.EventScanCompleted])
}

func TestRunAssignsRunID(t *testing.T) {
	r, _ := newTestRunner(t, Config{})
	res, err := r.Run(context.Background(), Request{Symbols: []string{"BTC/USDT"}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
}

func TestRunThresholdAboveCeilingRejectsAll(t *testing.T) {
	r, _ := newTestRunner(t, Config{MinScore: 101})

	res, err := r.Run(context.Background(), Request{
		RunID:   "run-ceiling",
		Symbols: []string{"BTC/USDT", "ETH/USDT"},
	})
	require.NoError(t, err)

	assert.Empty(t, res.Signals)
	require.Len(t, res.Rejections, 2)
	for _, rej := range res.Rejections {
		assert.Contains(t, []string{ReasonBelowThreshold, ReasonScorerBlocked}, rej.Reason)
		if rej.Reason == ReasonBelowThreshold {
			assert.Equal(t, telemetry.StepThreshold, rej.Stage)
			assert.Equal(t, 101.0, rej.Diagnostics["min_score"])
		}
	}
}

func TestRunResolvesUniverseFromVenue(t *testing.T) {
	r, sink := newTestRunner(t, Config{})

	res, err := r.Run(context.Background(), Request{RunID: "run-universe", Limit: 3, Quote: "USDT"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Scanned)

	started := map[string]bool{}
	for _, ev := range sink.Events() {
		if ev.Type != telemetry.EventSymbolStarted {
			continue
		}
		p, ok := ev.Payload.(telemetry.SymbolStartedPayload)
		require.True(t, ok)
		started[p.Symbol] = true
	}
	// The fake venue ranks by price, so the top three are stable.
	assert.True(t, started["BTC/USDT"])
	assert.True(t, started["ETH/USDT"])
	assert.True(t, started["SOL/USDT"])
}

func TestRunEmptySymbolsBadQuote(t *testing.T) {
	r, _ := newTestRunner(t, Config{})
	_, err := r.Run(context.Background(), Request{Limit: 5, Quote: "JPY"})
	assert.Error(t, err)
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Run("pre_cancelled_context", func(t *testing.T) {
		r, _ := newTestRunner(t, Config{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := r.Run(ctx, Request{Symbols: []string{"BTC/USDT", "ETH/USDT"}})
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Zero(t, res.Scanned)
		assert.Empty(t, res.Signals)
	})

	t.Run("deadline_expired", func(t *testing.T) {
		r, _ := newTestRunner(t, Config{Deadline: time.Nanosecond})

		res, err := r.Run(context.Background(), Request{Symbols: []string{"BTC/USDT", "ETH/USDT"}})
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Zero(t, res.Scanned)
	})
}

func TestIngestServesSecondPassFromCache(t *testing.T) {
	r, _ := newTestRunner(t, Config{})
	ctx := context.Background()

	first, err := r.ingest(ctx, "BTC/USDT")
	require.NoError(t, err)
	tfs := len(r.cfg.Timeframes)
	assert.Len(t, first.Timeframes(), tfs)
	assert.Equal(t, tfs, int(r.caches.OHLCV().Stats().Misses))

	second, err := r.ingest(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, tfs, int(r.caches.OHLCV().Stats().Hits))

	a, _ := first.Get(ohlcv.TF4h)
	b, _ := second.Get(ohlcv.TF4h)
	assert.Equal(t, len(a), len(b))
}

func TestIngestFailsWithoutPrimaryTimeframe(t *testing.T) {
	r, _ := newTestRunner(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ingest(ctx, "BTC/USDT")
	assert.Error(t, err)
}

func TestScoreBothKeepsBestDirection(t *testing.T) {
	r, _ := newTestRunner(t, Config{})
	ctx := context.Background()

	bundle, err := r.ingest(ctx, "ETH/USDT")
	require.NoError(t, err)

	best, ok, diag := r.scoreBoth(score.Inputs{
		Symbol:  "ETH/USDT",
		EntryTF: ohlcv.TF1h,
		Set:     indicators.Compute(bundle),
	})
	require.True(t, ok)
	assert.NotEqual(t, score.VerdictBlocked, best.Verdict)
	assert.Contains(t, diag, "long_score")
	assert.Contains(t, diag, "short_score")

	long, _ := diag["long_score"].(float64)
	short, _ := diag["short_score"].(float64)
	if long >= short {
		assert.Equal(t, score.DirLong, best.Direction)
	} else {
		assert.Equal(t, score.DirShort, best.Direction)
	}
}

func TestMarketRegimeCachedAcrossRuns(t *testing.T) {
	r, _ := newTestRunner(t, Config{})
	ctx := context.Background()

	first := r.marketRegime(ctx, dominance.Snapshot{BTCDom: 52, StableDom: 7}, true)
	second := r.marketRegime(ctx, dominance.Snapshot{BTCDom: 52, StableDom: 7}, true)

	assert.Equal(t, first.Composite, second.Composite)
	assert.GreaterOrEqual(t, int(r.caches.Regime().Stats().Hits), 1)
}

func TestRunRejectsSymbolsOnCooldown(t *testing.T) {
	mgr := cache.NewManager(cache.Config{})
	t.Cleanup(mgr.Stop)
	rm, err := risk.NewManager(10000, risk.DefaultLimits())
	require.NoError(t, err)
	cds, err := risk.NewCooldownStore(t.TempDir())
	require.NoError(t, err)

	deps := Deps{
		Adapter:   exchange.NewSeededFakeAdapter("fake", 42),
		Cache:     mgr,
		Risk:      rm,
		Cooldowns: cds,
		Dominance: stubDominance{snap: dominance.Snapshot{BTCDom: 52, StableDom: 7}},
		Sink:      telemetry.NewMemorySink(),
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	}
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}

	r1, err := New(Config{MinScore: 1, Workers: 1}, deps)
	require.NoError(t, err)
	first, err := r1.Run(context.Background(), Request{RunID: "warmup", Symbols: symbols})
	require.NoError(t, err)
	require.NotEmpty(t, first.Signals, "need a passing symbol to cool down")

	// Every emit writes its own cooldown entry.
	for _, sig := range first.Signals {
		entry, active := cds.IsActive(sig.Symbol, string(sig.Direction))
		require.True(t, active, "emit should have cooled down %s", sig.Symbol)
		assert.Equal(t, "signal emitted", entry.Reason)
		assert.Equal(t, sig.EntryPrice, entry.Price)
	}

	r2, err := New(Config{MinScore: 1, Workers: 1}, deps)
	require.NoError(t, err)
	second, err := r2.Run(context.Background(), Request{RunID: "cooled", Symbols: symbols})
	require.NoError(t, err)

	assert.Empty(t, second.Signals)
	cooled := 0
	for _, rej := range second.Rejections {
		if rej.Reason == ReasonCooldownActive {
			cooled++
			assert.Equal(t, telemetry.StepCooldownGate, rej.Stage)
			assert.Contains(t, rej.Diagnostics, "expires_at")
		}
	}
	assert.Equal(t, len(first.Signals), cooled, "every previously emitted symbol rejects on cooldown")

	// A manually recorded stop-out blocks re-entry the same way and
	// surfaces its reason in the rejection.
	sig := first.Signals[0]
	require.NoError(t, cds.Clear(sig.Symbol, string(sig.Direction)))
	require.NoError(t, cds.Add(sig.Symbol, string(sig.Direction), sig.EntryPrice, "stop_loss", 24*time.Hour))

	r3, err := New(Config{MinScore: 1, Workers: 1}, deps)
	require.NoError(t, err)
	third, err := r3.Run(context.Background(), Request{RunID: "stopped-out", Symbols: []string{sig.Symbol}})
	require.NoError(t, err)

	assert.Empty(t, third.Signals)
	require.Len(t, third.Rejections, 1)
	rej := third.Rejections[0]
	assert.Equal(t, ReasonCooldownActive, rej.Reason)
	assert.Equal(t, "stop_loss", rej.Diagnostics["cooldown_reason"])
}

func TestRankSignalsTieBreaks(t *testing.T) {
	mk := func(symbol string, final, htfRaw, atrPct float64) Signal {
		return Signal{
			Symbol: symbol,
			Score:  final,
			Trace: score.Trace{
				Factors:     []score.Factor{{Name: score.FactorHTFTrend, Raw: htfRaw}},
				EntryATRPct: atrPct,
			},
		}
	}
	sigs := []Signal{
		mk("DOT/USDT", 80, 70, 1.2),
		mk("BTC/USDT", 91, 60, 2.0),
		mk("SOL/USDT", 80, 85, 3.1),
		mk("ETH/USDT", 80, 70, 0.9),
		mk("ADA/USDT", 80, 70, 0.9),
	}
	rankSignals(sigs)

	got := make([]string, len(sigs))
	for i, s := range sigs {
		got[i] = s.Symbol
	}
	// Score first, then HTF alignment, then the calmer ATR%, then symbol.
	assert.Equal(t, []string{"BTC/USDT", "SOL/USDT", "ADA/USDT", "ETH/USDT", "DOT/USDT"}, got)
}

func TestRunFailsWhenCooldownStoreBreaks(t *testing.T) {
	mgr := cache.NewManager(cache.Config{})
	t.Cleanup(mgr.Stop)
	rm, err := risk.NewManager(10000, risk.DefaultLimits())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "cooldowns")
	cds, err := risk.NewCooldownStore(dir)
	require.NoError(t, err)
	// A file squatting on the cache dir path fails every store write,
	// including the rollback clear.
	require.NoError(t, os.WriteFile(dir, []byte{}, 0o644))

	r, err := New(Config{MinScore: 1, Workers: 1}, Deps{
		Adapter:   exchange.NewSeededFakeAdapter("fake", 42),
		Cache:     mgr,
		Risk:      rm,
		Cooldowns: cds,
		Dominance: stubDominance{snap: dominance.Snapshot{BTCDom: 52, StableDom: 7}},
		Sink:      telemetry.NewMemorySink(),
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Request{
		RunID:   "broken-store",
		Symbols: []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooldown store")
	require.NotNil(t, res, "partial accounting survives the abort")
	assert.Less(t, res.Scanned, 3, "the pool stops at the first failed write")
}
