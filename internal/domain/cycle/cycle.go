// Package cycle tracks per-symbol daily and weekly price cycles: the most
// recent confirmed cycle low, translation of the peak, failure against the
// cycle low and the resulting bias. A date-driven four-year overlay feeds
// the scorer's macro component.
package cycle

import (
	"fmt"
	"time"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Horizon names the cycle granularity. Both run over daily bars; the
// weekly horizon just expects a longer low-to-low window.
type Horizon string

const (
	Daily  Horizon = "daily"
	Weekly Horizon = "weekly"
)

// Translation classifies where the cycle peak sits between lows.
type Translation string

const (
	RTR                Translation = "RTR"
	MTR                Translation = "MTR"
	LTR                Translation = "LTR"
	TranslationUnknown Translation = "UNKNOWN"
)

// Status is the cycle health ladder, most severe first.
type Status string

const (
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
	StatusCaution Status = "caution"
	StatusHealthy Status = "healthy"
	StatusEarly   Status = "early"
	StatusUnknown Status = "unknown"
)

// Bias is the directional lean a cycle implies.
type Bias string

const (
	BiasLong    Bias = "LONG"
	BiasShort   Bias = "SHORT"
	BiasNeutral Bias = "NEUTRAL"
)

// Alignment describes how the daily and weekly biases relate.
type Alignment string

const (
	Aligned     Alignment = "ALIGNED"
	Conflicting Alignment = "CONFLICTING"
	Mixed       Alignment = "MIXED"
)

// Extreme pins a cycle low or high to a bar.
type Extreme struct {
	Price     float64   `json:"price"`
	Bar       int       `json:"bar"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the full read for one cycle horizon.
type State struct {
	Horizon        Horizon     `json:"horizon"`
	BarsSinceLow   int         `json:"bars_since_low"`
	ExpectedMin    int         `json:"expected_min"`
	ExpectedMax    int         `json:"expected_max"`
	CycleLow       Extreme     `json:"cycle_low"`
	CycleHigh      Extreme     `json:"cycle_high"`
	PeakBar        int         `json:"peak_bar"`
	TranslationPct float64     `json:"translation_pct"`
	Translation    Translation `json:"translation"`
	Failed         bool        `json:"failed"`
	InWindow       bool        `json:"in_window"`
	Status         Status      `json:"status"`
	Bias           Bias        `json:"bias"`
}

// Context aggregates both horizons for one symbol.
type Context struct {
	Symbol    string    `json:"symbol"`
	Daily     State     `json:"daily"`
	Weekly    State     `json:"weekly"`
	Bias      Bias      `json:"bias"`
	Alignment Alignment `json:"alignment"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// AccumulationZone reports whether either horizon sits where cycle lows
// form: inside its expected low window, or within the first bars after a
// fresh low. A failed cycle is never an accumulation zone.
func (c Context) AccumulationZone() bool {
	if c.Daily.Failed || c.Weekly.Failed {
		return false
	}
	return zoneOf(c.Daily) || zoneOf(c.Weekly)
}

func zoneOf(s State) bool {
	return s.InWindow || s.Status == StatusEarly
}

// DistributionZone reports whether either horizon is left-translated,
// the classic distribution signature.
func (c Context) DistributionZone() bool {
	return c.Daily.Translation == LTR || c.Weekly.Translation == LTR
}

// Window bounds the expected bars between consecutive cycle lows.
type Window struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Config tunes the detector. Zero fields fall back to defaults.
type Config struct {
	DCL                Window  `yaml:"dcl"`
	WCL                Window  `yaml:"wcl"`
	NearFailureRetrace float64 `yaml:"near_failure_retrace"`
}

// DefaultConfig returns the canonical daily 18-28 and weekly 35-50 windows.
func DefaultConfig() Config {
	return Config{
		DCL:                Window{Min: 18, Max: 28},
		WCL:                Window{Min: 35, Max: 50},
		NearFailureRetrace: 0.8,
	}
}

// Detector analyzes daily series against the configured cycle windows.
type Detector struct {
	cfg Config
}

// NewDetector builds a detector, defaulting any unset config field.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.DCL.Min <= 0 || cfg.DCL.Max <= cfg.DCL.Min {
		cfg.DCL = def.DCL
	}
	if cfg.WCL.Min <= 0 || cfg.WCL.Max <= cfg.WCL.Min {
		cfg.WCL = def.WCL
	}
	if cfg.NearFailureRetrace <= 0 || cfg.NearFailureRetrace > 1 {
		cfg.NearFailureRetrace = def.NearFailureRetrace
	}
	return &Detector{cfg: cfg}
}

// Analyze reads both cycle horizons from a daily series. The series must
// cover at least the weekly window minimum.
func (d *Detector) Analyze(symbol string, daily []ohlcv.Bar) (Context, error) {
	if len(daily) < d.cfg.WCL.Min {
		return Context{}, fmt.Errorf("cycle %s: %w: %d daily bars, need %d",
			symbol, ohlcv.ErrInsufficientData, len(daily), d.cfg.WCL.Min)
	}

	dst, dwarns := d.scanCycle(Daily, d.cfg.DCL, daily)
	wst, wwarns := d.scanCycle(Weekly, d.cfg.WCL, daily)

	ctx := Context{
		Symbol:    symbol,
		Daily:     dst,
		Weekly:    wst,
		Alignment: alignmentOf(dst.Bias, wst.Bias),
		Bias:      BiasNeutral,
	}
	if ctx.Alignment == Aligned {
		ctx.Bias = dst.Bias
	}

	ctx.Warnings = append(ctx.Warnings, dwarns...)
	ctx.Warnings = append(ctx.Warnings, wwarns...)
	if ctx.Alignment == Conflicting {
		ctx.Warnings = append(ctx.Warnings, "daily and weekly cycle bias conflict")
	}
	return ctx, nil
}

// scanCycle finds the most recent confirmed trough inside the window (the
// lowest low preceded by a higher low and not immediately undercut), then
// measures the cycle from it. With no confirmed trough, the window's
// lowest low serves as the transition point out of a prior failed cycle.
func (d *Detector) scanCycle(h Horizon, win Window, bars []ohlcv.Bar) (State, []string) {
	n := len(bars)
	lookback := win.Max
	if lookback > n {
		lookback = n
	}
	start := n - lookback

	var warns []string
	iLow := -1
	for i := n - 2; i >= start && i >= 1; i-- {
		if bars[i-1].Low > bars[i].Low && bars[i+1].Low >= bars[i].Low {
			if iLow == -1 || bars[i].Low < bars[iLow].Low {
				iLow = i
			}
		}
	}
	if iLow == -1 {
		iLow = n - 1
		for i := n - 1; i >= start; i-- {
			if bars[i].Low < bars[iLow].Low {
				iLow = i
			}
		}
		warns = append(warns, fmt.Sprintf("%s cycle low unconfirmed, using window minimum", h))
	}

	iHigh := iLow
	for i := iLow; i < n; i++ {
		if bars[i].High > bars[iHigh].High {
			iHigh = i
		}
	}

	barsSince := n - 1 - iLow
	px := bars[n-1].Close

	st := State{
		Horizon:      h,
		BarsSinceLow: barsSince,
		ExpectedMin:  win.Min,
		ExpectedMax:  win.Max,
		CycleLow:     Extreme{Price: bars[iLow].Low, Bar: iLow, Timestamp: bars[iLow].Timestamp},
		CycleHigh:    Extreme{Price: bars[iHigh].High, Bar: iHigh, Timestamp: bars[iHigh].Timestamp},
		PeakBar:      iHigh - iLow,
		Failed:       px < bars[iLow].Low,
		InWindow:     barsSince >= win.Min && barsSince <= win.Max,
		Translation:  TranslationUnknown,
	}

	early := float64(barsSince) < 0.2*float64(win.Min)
	if barsSince > 0 {
		st.TranslationPct = 100 * float64(st.PeakBar) / float64(barsSince)
		if !early {
			switch {
			case st.TranslationPct > 55:
				st.Translation = RTR
			case st.TranslationPct < 45:
				st.Translation = LTR
			default:
				st.Translation = MTR
			}
		}
	}

	nearFailure := false
	if rng := st.CycleHigh.Price - st.CycleLow.Price; rng > 0 {
		nearFailure = st.CycleHigh.Price-px >= d.cfg.NearFailureRetrace*rng
	}

	st.Status = statusOf(st, early, nearFailure)
	st.Bias = biasOf(st)

	switch {
	case st.Failed:
		warns = append(warns, fmt.Sprintf("%s cycle failed below %.6g", h, st.CycleLow.Price))
	case st.Translation == LTR:
		warns = append(warns, fmt.Sprintf("%s cycle left-translated (%.0f%%)", h, st.TranslationPct))
	}
	return st, warns
}

func statusOf(st State, early, nearFailure bool) Status {
	switch {
	case st.Failed:
		return StatusFailed
	case st.Translation == LTR:
		return StatusWarning
	case st.Translation == MTR && nearFailure:
		return StatusCaution
	case st.Translation == RTR:
		return StatusHealthy
	case early:
		return StatusEarly
	default:
		return StatusUnknown
	}
}

func biasOf(st State) Bias {
	switch {
	case st.Translation == RTR && !st.Failed:
		return BiasLong
	case st.Translation == LTR || st.Failed:
		return BiasShort
	default:
		return BiasNeutral
	}
}

func alignmentOf(a, b Bias) Alignment {
	switch {
	case a == b && a != BiasNeutral:
		return Aligned
	case a != BiasNeutral && b != BiasNeutral:
		return Conflicting
	default:
		return Mixed
	}
}
