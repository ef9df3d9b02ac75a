// Package pipeline drives the staged multi-symbol scan. A bounded worker
// pool pulls symbols from a FIFO queue and runs each through ingest,
// indicator and pattern analysis, structure, regime, scoring, and the
// risk and cooldown gates. Results arrive in completion order; one
// symbol failing never aborts the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/dominance"
	"github.com/smcscan/smcscan/internal/data/exchange"
	"github.com/smcscan/smcscan/internal/domain/cycle"
	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/domain/score"
	"github.com/smcscan/smcscan/internal/domain/smc"
	"github.com/smcscan/smcscan/internal/domain/swing"
	"github.com/smcscan/smcscan/internal/risk"
	"github.com/smcscan/smcscan/internal/telemetry"
)

const (
	// DefaultWorkers is the pool size when the config leaves it zero.
	DefaultWorkers = 4
	// MaxWorkers caps the pool regardless of configuration.
	MaxWorkers = 8

	// DefaultBars is the fetch depth per timeframe.
	DefaultBars = 150
	// minBarsPerTF is the floor a timeframe must clear after cleaning.
	minBarsPerTF = 50

	// DefaultLimit bounds the universe when neither symbols nor a limit
	// are requested.
	DefaultLimit = 10
	// DefaultQuote filters the venue universe.
	DefaultQuote = "USDT"

	// DefaultMarketSymbol is the barometer the global regime reads from.
	DefaultMarketSymbol = "BTC/USDT"

	// DefaultRiskPct is the per-trade equity risk used for sizing.
	DefaultRiskPct = 1.0

	// emitCooldownReason tags the store entry written for every emitted
	// signal so the pair stays quiet until the cooldown lapses.
	emitCooldownReason = "signal emitted"

	marketRegimeTTL = 5 * time.Minute
)

// DominanceSource yields the market dominance read shared by one scan.
type DominanceSource interface {
	Fetch(ctx context.Context) (dominance.Snapshot, error)
}

// Config shapes a Runner. Zero fields fall back to mode defaults.
type Config struct {
	Mode         string
	MinScore     float64
	Workers      int
	Timeframes   []ohlcv.Timeframe
	EntryTF      ohlcv.Timeframe
	PrimaryHTF   ohlcv.Timeframe
	Bars         int
	MarketSymbol string
	RiskPct      float64
	Leverage     float64
	Deadline     time.Duration
	Macro        *cycle.FourYear

	// Weights overrides the mode's built-in factor weight table.
	Weights score.Weights
	// Thresholds overrides the mode's trend-classification knobs.
	Thresholds *regime.ModeThresholds
}

// Deps are the shared services a Runner scans with. Adapter, Cache,
// Risk, and Cooldowns are required. A nil Dominance leaves the risk
// appetite input degraded; Sink and Metrics default to in-memory and
// the process registry.
type Deps struct {
	Adapter   exchange.Adapter
	Cache     *cache.Manager
	Risk      *risk.Manager
	Sizer     *risk.Sizer
	Cooldowns *risk.CooldownStore
	Dominance DominanceSource
	Sink      telemetry.Sink
	Metrics   *telemetry.Metrics
}

// Runner executes scans. It is safe for concurrent use; the regime
// detector carries hysteresis state across runs.
type Runner struct {
	cfg       Config
	adapter   exchange.Adapter
	caches    *cache.Manager
	detector  *regime.Detector
	cycles    *cycle.Detector
	patterns  *smc.Detector
	scorer    *score.Scorer
	swingCfg  swing.Config
	risk      *risk.Manager
	sizer     *risk.Sizer
	cooldowns *risk.CooldownStore
	dom       DominanceSource
	sink      telemetry.Sink
	metrics   *telemetry.Metrics
	minScore  float64
}

// Request names one scan invocation. Empty Symbols resolves the top
// Limit symbols by volume from the venue.
type Request struct {
	RunID      string
	Symbols    []string
	Limit      int
	Quote      string
	OnProgress ProgressFunc
}

// ProgressFunc observes each finished symbol. Exactly one of sig and rej
// is non-nil except for symbols abandoned by cancellation, which are not
// reported. Called outside the result lock, possibly from several
// goroutines at once.
type ProgressFunc func(completed, total int, symbol string, sig *Signal, rej *Rejection)

// New validates the config, fills defaults, and builds a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Adapter == nil {
		return nil, errors.New("pipeline: adapter is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("pipeline: cache manager is required")
	}
	if deps.Risk == nil {
		return nil, errors.New("pipeline: risk manager is required")
	}
	if deps.Cooldowns == nil {
		return nil, errors.New("pipeline: cooldown store is required")
	}

	if cfg.Mode == "" {
		cfg.Mode = regime.ModeStealthBalanced
	}
	var scorer *score.Scorer
	var err error
	if cfg.Weights != nil {
		scorer, err = score.NewWithWeights(cfg.Mode, cfg.Weights, score.DefaultSynergy())
	} else {
		scorer, err = score.New(cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = score.MinConfluenceFor(cfg.Mode)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = modeTimeframes(cfg.Mode)
	}
	if cfg.EntryTF == "" {
		cfg.EntryTF = modeEntryTF(cfg.Mode)
	}
	if cfg.PrimaryHTF == "" {
		cfg.PrimaryHTF = ohlcv.TF4h
	}
	if !containsTF(cfg.Timeframes, cfg.PrimaryHTF) {
		cfg.Timeframes = append(cfg.Timeframes, cfg.PrimaryHTF)
	}
	if cfg.Bars <= 0 {
		cfg.Bars = DefaultBars
	}
	if cfg.MarketSymbol == "" {
		cfg.MarketSymbol = DefaultMarketSymbol
	}
	if cfg.RiskPct <= 0 {
		cfg.RiskPct = DefaultRiskPct
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}

	sizer := deps.Sizer
	if sizer == nil {
		sizer = risk.NewSizer(risk.DefaultSizerConfig())
	}
	sink := deps.Sink
	if sink == nil {
		sink = telemetry.NewMemorySink()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.Default()
	}
	detector := regime.NewDetector(cfg.Mode)
	if cfg.Thresholds != nil {
		detector = regime.NewDetectorWithThresholds(*cfg.Thresholds)
	}

	return &Runner{
		cfg:       cfg,
		adapter:   deps.Adapter,
		caches:    deps.Cache,
		detector:  detector,
		cycles:    cycle.NewDetector(cycle.DefaultConfig()),
		patterns:  smc.NewDetector(smc.DefaultConfig()),
		scorer:    scorer,
		swingCfg:  swing.DefaultConfig(),
		risk:      deps.Risk,
		sizer:     sizer,
		cooldowns: deps.Cooldowns,
		dom:       deps.Dominance,
		sink:      sink,
		metrics:   metrics,
		minScore:  cfg.MinScore,
	}, nil
}

// Run scans the requested universe and blocks until every symbol
// finished or the context ended. It returns an error only when the run
// cannot start at all or the cooldown store stops accepting writes;
// per-symbol failures land in Result.Rejections.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	symbols, err := r.resolveSymbols(ctx, req)
	if err != nil {
		return nil, err
	}

	r.metrics.ScanStarted()
	defer r.metrics.ScanFinished()

	if r.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Deadline)
		defer cancel()
	}
	// abort stops the pool when the cooldown store breaks mid-run.
	ctx, abort := context.WithCancel(ctx)
	defer abort()

	r.sink.Emit(telemetry.EventScanStarted, telemetry.ScanStartedPayload{
		RunID: req.RunID,
		Params: map[string]any{
			"mode":      r.cfg.Mode,
			"min_score": r.minScore,
			"workers":   r.cfg.Workers,
			"exchange":  r.adapter.Name(),
		},
		Symbols: len(symbols),
	})

	domSnap, domOK := r.fetchDominance(ctx)
	market := r.marketRegime(ctx, domSnap, domOK)

	res := &Result{
		RunID:  req.RunID,
		Mode:   r.cfg.Mode,
		Market: market,
		Total:  len(symbols),
	}

	queue := make(chan string)
	go func() {
		defer close(queue)
		for _, s := range symbols {
			select {
			case queue <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		fatal error
	)
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range queue {
				if ctx.Err() != nil {
					return
				}
				r.sink.Emit(telemetry.EventSymbolStarted, telemetry.SymbolStartedPayload{
					RunID:  req.RunID,
					Symbol: symbol,
				})
				sig, rej := r.scanSymbol(ctx, req.RunID, symbol, market, domSnap, domOK)
				if sig == nil && rej == nil {
					// Abandoned by cancellation; not scanned.
					return
				}
				if sig != nil {
					if err := r.recordCooldown(sig); err != nil {
						mu.Lock()
						if fatal == nil {
							fatal = err
						}
						mu.Unlock()
						abort()
						return
					}
				}

				mu.Lock()
				res.Scanned++
				completed := res.Scanned
				if sig != nil {
					res.Signals = append(res.Signals, *sig)
				} else {
					res.Rejections = append(res.Rejections, *rej)
				}
				mu.Unlock()

				r.publish(req, completed, len(symbols), symbol, sig, rej)
			}
		}()
	}
	wg.Wait()

	res.Duration = time.Since(start)
	res.Cancelled = ctx.Err() != nil || res.Scanned < res.Total
	rankSignals(res.Signals)

	if fatal != nil {
		log.Error().
			Str("run_id", req.RunID).
			Int("scanned", res.Scanned).
			Err(fatal).
			Msg("scan aborted, cooldown store unwritable")
		return res, fatal
	}

	r.sink.Emit(telemetry.EventScanCompleted, telemetry.ScanCompletedPayload{
		RunID:      req.RunID,
		Scanned:    res.Scanned,
		Signals:    len(res.Signals),
		Rejected:   len(res.Rejections),
		DurationMS: float64(res.Duration.Milliseconds()),
	})
	log.Info().
		Str("run_id", req.RunID).
		Str("mode", res.Mode).
		Int("scanned", res.Scanned).
		Int("signals", len(res.Signals)).
		Int("rejected", len(res.Rejections)).
		Bool("cancelled", res.Cancelled).
		Dur("duration", res.Duration).
		Msg("scan completed")
	return res, nil
}

func (r *Runner) resolveSymbols(ctx context.Context, req Request) ([]string, error) {
	if len(req.Symbols) > 0 {
		return req.Symbols, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	quote := req.Quote
	if quote == "" {
		quote = DefaultQuote
	}
	started := time.Now()
	symbols, err := r.adapter.ListTopSymbols(ctx, limit, quote)
	r.metrics.ObserveVenueRequest(r.adapter.Name(), "symbols", time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("resolve scan universe: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("venue %s returned no %s symbols", r.adapter.Name(), quote)
	}
	return symbols, nil
}

func (r *Runner) publish(req Request, completed, total int, symbol string, sig *Signal, rej *Rejection) {
	if sig != nil {
		r.metrics.RecordSignal(string(sig.Direction))
		r.sink.Emit(telemetry.EventSignalGenerated, telemetry.SignalGeneratedPayload{
			RunID:  req.RunID,
			Symbol: symbol,
			Signal: sig,
		})
	} else {
		r.metrics.RecordRejection(rej.Reason)
		r.sink.Emit(telemetry.EventSignalRejected, telemetry.SignalRejectedPayload{
			RunID:       req.RunID,
			Symbol:      symbol,
			Stage:       rej.Stage,
			Reason:      rej.Reason,
			Diagnostics: rej.Diagnostics,
		})
	}
	if req.OnProgress != nil {
		req.OnProgress(completed, total, symbol, sig, rej)
	}
}

// recordCooldown writes the emit-side cooldown so the pair cannot signal
// again before the entry expires. A failed write is rolled back with a
// clear; when the clear fails too the store is unusable and the run stops.
func (r *Runner) recordCooldown(sig *Signal) error {
	timer := r.metrics.StartStepTimer(telemetry.StepEmit)
	err := r.cooldowns.Add(sig.Symbol, string(sig.Direction), sig.EntryPrice, emitCooldownReason, risk.DefaultCooldown)
	if err == nil {
		timer.Stop(telemetry.ResultSuccess)
		return nil
	}
	if clearErr := r.cooldowns.Clear(sig.Symbol, string(sig.Direction)); clearErr != nil {
		timer.Stop(telemetry.ResultError)
		return fmt.Errorf("cooldown store: add: %v, clear: %v", err, clearErr)
	}
	timer.Stop(telemetry.ResultError)
	log.Warn().Str("symbol", sig.Symbol).Err(err).Msg("cooldown write failed, entry rolled back")
	return nil
}

func (r *Runner) fetchDominance(ctx context.Context) (dominance.Snapshot, bool) {
	if r.dom == nil {
		return dominance.Snapshot{}, false
	}
	snap, err := r.dom.Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("dominance unavailable, risk appetite degrades to balanced")
		return dominance.Snapshot{}, false
	}
	return snap, true
}

// marketRegime resolves the global regime once per scan: the shared
// cache first, otherwise a fresh detection over the barometer symbol.
func (r *Runner) marketRegime(ctx context.Context, dom dominance.Snapshot, domOK bool) regime.Regime {
	if v, ok := r.caches.Regime().Get(cache.RegimeGlobalKey); ok {
		if m, ok := v.(regime.Regime); ok {
			r.metrics.RecordCacheHit(cache.NSRegime)
			return m
		}
	}
	r.metrics.RecordCacheMiss(cache.NSRegime)

	bundle, err := r.ingest(ctx, r.cfg.MarketSymbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", r.cfg.MarketSymbol).
			Msg("market barometer unavailable, regime detection degrades")
		bundle = ohlcv.NewBundle(r.cfg.MarketSymbol)
	}
	in := regime.Inputs{
		Bundle:    bundle,
		Set:       indicators.Compute(bundle),
		BTCDom:    dom.BTCDom,
		StableDom: dom.StableDom,
		DomOK:     domOK,
	}

	before := r.detector.Current()
	market, changed := r.detector.DetectGlobal(in)
	if changed && before != "" {
		r.metrics.RecordRegimeSwitch(before, market.Composite)
	}
	r.caches.Regime().SetTTL(cache.RegimeGlobalKey, market, marketRegimeTTL)
	return market
}

func modeTimeframes(mode string) []ohlcv.Timeframe {
	switch mode {
	case regime.ModeMacroSurveillance:
		return []ohlcv.Timeframe{ohlcv.TF4h, ohlcv.TF1d, ohlcv.TF1w}
	case regime.ModeIntradayAggressive:
		return []ohlcv.Timeframe{ohlcv.TF5m, ohlcv.TF15m, ohlcv.TF1h, ohlcv.TF4h, ohlcv.TF1d}
	default:
		return []ohlcv.Timeframe{ohlcv.TF15m, ohlcv.TF1h, ohlcv.TF4h, ohlcv.TF1d}
	}
}

func modeEntryTF(mode string) ohlcv.Timeframe {
	switch mode {
	case regime.ModeMacroSurveillance:
		return ohlcv.TF4h
	case regime.ModeIntradayAggressive:
		return ohlcv.TF15m
	default:
		return ohlcv.TF1h
	}
}

func containsTF(tfs []ohlcv.Timeframe, tf ohlcv.Timeframe) bool {
	for _, t := range tfs {
		if t == tf {
			return true
		}
	}
	return false
}
