package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/dominance"
	"github.com/smcscan/smcscan/internal/domain/cycle"
	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/domain/score"
	"github.com/smcscan/smcscan/internal/domain/smc"
	"github.com/smcscan/smcscan/internal/domain/swing"
	"github.com/smcscan/smcscan/internal/telemetry"
)

// scanSymbol runs one symbol through every stage. It returns exactly one
// of signal or rejection, or neither when cancellation abandoned the
// symbol mid-flight. A panic in any stage becomes an internal_error
// rejection so one bad symbol cannot take down the pool.
func (r *Runner) scanSymbol(ctx context.Context, runID, symbol string, market regime.Regime, dom dominance.Snapshot, domOK bool) (sig *Signal, rej *Rejection) {
	stage := telemetry.StepIngest
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("symbol", symbol).Str("stage", stage).
				Interface("panic", rec).Bytes("stack", debug.Stack()).
				Msg("scan stage panicked")
			sig = nil
			rej = &Rejection{
				Symbol:  symbol,
				Stage:   stage,
				Reason:  ReasonInternalError,
				Message: fmt.Sprint(rec),
			}
		}
	}()

	timer := r.metrics.StartStepTimer(telemetry.StepIngest)
	bundle, err := r.ingest(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			timer.Stop(telemetry.ResultSkipped)
			return nil, nil
		}
		timer.Stop(telemetry.ResultError)
		return nil, &Rejection{
			Symbol:  symbol,
			Stage:   telemetry.StepIngest,
			Reason:  ReasonDataUnavailable,
			Message: err.Error(),
		}
	}
	timer.Stop(telemetry.ResultSuccess)
	if ctx.Err() != nil {
		return nil, nil
	}

	stage = telemetry.StepIndicators
	timer = r.metrics.StartStepTimer(telemetry.StepIndicators)
	set := indicators.Compute(bundle)
	patterns := make(map[ohlcv.Timeframe]smc.Inventory, len(bundle.Series))
	for tf, bars := range bundle.Series {
		patterns[tf] = r.patterns.Detect(symbol, tf, bars)
	}
	timer.Stop(telemetry.ResultSuccess)
	if ctx.Err() != nil {
		return nil, nil
	}

	stage = telemetry.StepStructure
	timer = r.metrics.StartStepTimer(telemetry.StepStructure)
	swings := make(map[ohlcv.Timeframe]swing.Structure, len(bundle.Series))
	for tf, bars := range bundle.Series {
		swings[tf] = swing.Detect(tf, bars, r.swingCfg)
	}
	timer.Stop(telemetry.ResultSuccess)
	if ctx.Err() != nil {
		return nil, nil
	}

	stage = telemetry.StepRegime
	timer = r.metrics.StartStepTimer(telemetry.StepRegime)
	cyc := r.cycleContext(symbol, bundle)
	perSymbol := r.symbolRegime(symbol, bundle, set, dom, domOK, cyc)
	timer.Stop(telemetry.ResultSuccess)
	if ctx.Err() != nil {
		return nil, nil
	}

	stage = telemetry.StepScore
	timer = r.metrics.StartStepTimer(telemetry.StepScore)
	best, ok, diag := r.scoreBoth(score.Inputs{
		Symbol:    symbol,
		EntryTF:   r.cfg.EntryTF,
		Set:       set,
		Patterns:  patterns,
		Swings:    swings,
		Market:    market,
		PerSymbol: perSymbol,
		Cycle:     cyc,
		Macro:     r.cfg.Macro,
		Proximity: proximityFor(bundle, set, swings),
	})
	if !ok {
		timer.Stop(telemetry.ResultRejected)
		return nil, &Rejection{
			Symbol:      symbol,
			Stage:       telemetry.StepScore,
			Reason:      ReasonScorerBlocked,
			Message:     "no direction cleared the higher-timeframe gate",
			Diagnostics: diag,
		}
	}
	timer.Stop(telemetry.ResultSuccess)

	stage = telemetry.StepThreshold
	if best.Final < r.minScore {
		return nil, &Rejection{
			Symbol: symbol,
			Stage:  telemetry.StepThreshold,
			Reason: ReasonBelowThreshold,
			Diagnostics: map[string]any{
				"score":     best.Final,
				"min_score": r.minScore,
				"direction": string(best.Direction),
				"verdict":   string(best.Verdict),
			},
		}
	}
	if ctx.Err() != nil {
		return nil, nil
	}

	stage = telemetry.StepRiskGate
	timer = r.metrics.StartStepTimer(telemetry.StepRiskGate)
	prop, err := r.buildProposal(best, bundle, set, patterns, swings)
	if err != nil {
		timer.Stop(telemetry.ResultError)
		return nil, &Rejection{
			Symbol:  symbol,
			Stage:   telemetry.StepRiskGate,
			Reason:  ReasonInternalError,
			Message: err.Error(),
		}
	}
	size, err := r.sizer.FixedFractional(r.risk.Balance(), r.cfg.RiskPct, prop.EntryPrice, prop.Stop, r.cfg.Leverage)
	if err != nil {
		timer.Stop(telemetry.ResultError)
		return nil, &Rejection{
			Symbol:  symbol,
			Stage:   telemetry.StepRiskGate,
			Reason:  ReasonInternalError,
			Message: fmt.Sprintf("sizing: %v", err),
		}
	}
	check := r.risk.ValidateNewTrade(symbol, string(best.Direction), size.Notional, size.RiskAmount)
	if !check.Allowed {
		timer.Stop(telemetry.ResultRejected)
		return nil, &Rejection{
			Symbol:  symbol,
			Stage:   telemetry.StepRiskGate,
			Reason:  ReasonRiskRejected,
			Message: check.Reason,
			Diagnostics: map[string]any{
				"limits_hit": check.LimitsHit,
				"metrics":    check.Metrics,
			},
		}
	}
	timer.Stop(telemetry.ResultSuccess)

	stage = telemetry.StepCooldownGate
	timer = r.metrics.StartStepTimer(telemetry.StepCooldownGate)
	if entry, active := r.cooldowns.IsActive(symbol, string(best.Direction)); active {
		timer.Stop(telemetry.ResultRejected)
		return nil, &Rejection{
			Symbol: symbol,
			Stage:  telemetry.StepCooldownGate,
			Reason: ReasonCooldownActive,
			Diagnostics: map[string]any{
				"expires_at":      entry.ExpiresAt,
				"cooldown_reason": entry.Reason,
			},
		}
	}
	timer.Stop(telemetry.ResultSuccess)

	stage = telemetry.StepEmit
	return &Signal{
		RunID:        runID,
		Symbol:       symbol,
		Direction:    best.Direction,
		Mode:         r.cfg.Mode,
		Score:        best.Final,
		Regime:       perSymbol.Composite,
		MarketRegime: market.Composite,
		Entry:        prop.Entry,
		EntryPrice:   prop.EntryPrice,
		Stop:         prop.Stop,
		Targets:      prop.Targets,
		Size:         &size,
		Cycle:        cyc,
		Trace:        best,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// scoreBoth evaluates long and short and keeps the better non-blocked
// trace. Ties go to the long side.
func (r *Runner) scoreBoth(in score.Inputs) (score.Trace, bool, map[string]any) {
	diag := make(map[string]any, 4)
	var (
		best  score.Trace
		found bool
	)
	for _, dir := range []score.Direction{score.DirLong, score.DirShort} {
		in.Direction = dir
		tr, err := r.scorer.Score(in)
		if err != nil {
			log.Warn().Str("symbol", in.Symbol).Str("direction", string(dir)).Err(err).
				Msg("scoring failed")
			continue
		}
		key := strings.ToLower(string(dir))
		diag[key+"_score"] = tr.Final
		diag[key+"_verdict"] = string(tr.Verdict)
		if tr.Verdict == score.VerdictBlocked {
			continue
		}
		if !found || tr.Final > best.Final {
			best = tr
			found = true
		}
	}
	return best, found, diag
}

// cycleContext resolves the daily/weekly cycle read, cached per symbol.
// Symbols without a daily series scan on without one.
func (r *Runner) cycleContext(symbol string, bundle *ohlcv.Bundle) *cycle.Context {
	if v, ok := r.caches.Cycles().Get(cache.CycleKey(symbol)); ok {
		if c, ok := v.(cycle.Context); ok {
			r.metrics.RecordCacheHit(cache.NSCycles)
			return &c
		}
	}
	r.metrics.RecordCacheMiss(cache.NSCycles)

	daily, ok := bundle.Get(ohlcv.TF1d)
	if !ok {
		return nil
	}
	cyc, err := r.cycles.Analyze(symbol, daily)
	if err != nil {
		log.Debug().Str("symbol", symbol).Err(err).Msg("cycle analysis unavailable")
		return nil
	}
	r.caches.Cycles().Set(cache.CycleKey(symbol), cyc)
	return &cyc
}

// symbolRegime resolves the per-symbol regime, cached per symbol.
func (r *Runner) symbolRegime(symbol string, bundle *ohlcv.Bundle, set *indicators.Set, dom dominance.Snapshot, domOK bool, cyc *cycle.Context) regime.Regime {
	if v, ok := r.caches.Regime().Get(cache.RegimeKey(symbol)); ok {
		if reg, ok := v.(regime.Regime); ok {
			r.metrics.RecordCacheHit(cache.NSRegime)
			return reg
		}
	}
	r.metrics.RecordCacheMiss(cache.NSRegime)

	reg := r.detector.DetectSymbol(regime.Inputs{
		Bundle:    bundle,
		Set:       set,
		BTCDom:    dom.BTCDom,
		StableDom: dom.StableDom,
		DomOK:     domOK,
	}, cyc)
	r.caches.Regime().Set(cache.RegimeKey(symbol), reg)
	return reg
}
