// Package regime classifies market state across five dimensions (trend,
// volatility, liquidity, risk appetite, derivatives) and composes them into
// a single labeled regime with a 0-100 quality score. The global regime is
// stabilized with an anti-flip-flop history; per-symbol regimes additionally
// apply cycle-aware trend overrides.
package regime

import (
	"fmt"
	"sync"
	"time"

	"github.com/smcscan/smcscan/internal/domain/cycle"
	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/swing"
)

// Trend direction of the highest available timeframe.
type Trend string

const (
	TrendStrongUp   Trend = "strong_up"
	TrendUp         Trend = "up"
	TrendSideways   Trend = "sideways"
	TrendDown       Trend = "down"
	TrendStrongDown Trend = "strong_down"
)

// Volatility bucket from ATR percent of price.
type Volatility string

const (
	VolCompressed Volatility = "compressed"
	VolNormal     Volatility = "normal"
	VolElevated   Volatility = "elevated"
	VolVolatile   Volatility = "volatile"
	VolChaotic    Volatility = "chaotic"
)

// Liquidity bucket from short vs long volume means.
type Liquidity string

const (
	LiqThin    Liquidity = "thin"
	LiqHealthy Liquidity = "healthy"
	LiqHeavy   Liquidity = "heavy"
)

// RiskAppetite from BTC and stablecoin dominance.
type RiskAppetite string

const (
	RiskExtremeOff  RiskAppetite = "extreme_risk_off"
	RiskOff         RiskAppetite = "risk_off"
	RiskCautious    RiskAppetite = "cautious"
	RiskBTCFlight   RiskAppetite = "btc_flight"
	RiskBTCDominant RiskAppetite = "btc_dominant"
	RiskBalanced    RiskAppetite = "balanced"
	RiskOn          RiskAppetite = "risk_on"
	RiskAltSeason   RiskAppetite = "alt_season"
)

// Derivatives is a placeholder dimension until funding/OI feeds land.
type Derivatives string

const DerivBalanced Derivatives = "balanced"

// Dimension weights for the composite score.
const (
	weightTrend       = 0.30
	weightVolatility  = 0.20
	weightLiquidity   = 0.20
	weightRisk        = 0.20
	weightDerivatives = 0.10
)

// Scanner mode profiles. Thresholds that vary by mode key off these names.
const (
	ModeMacroSurveillance  = "macro_surveillance"
	ModeStealthBalanced    = "stealth_balanced"
	ModeIntradayAggressive = "intraday_aggressive"
	ModePrecision          = "precision"
)

// ModeThresholds are the trend-classification knobs per scanner mode.
type ModeThresholds struct {
	MinTrendADX         float64 `yaml:"min_trend_adx"`
	StrongTrendADX      float64 `yaml:"strong_trend_adx"`
	StrongMomentumSlope float64 `yaml:"strong_momentum_slope"`
}

// ThresholdsFor returns the built-in thresholds for a mode. Unknown modes
// fall back to stealth_balanced.
func ThresholdsFor(mode string) ModeThresholds {
	switch mode {
	case ModeMacroSurveillance:
		return ModeThresholds{MinTrendADX: 25, StrongTrendADX: 35, StrongMomentumSlope: 3.0}
	case ModeIntradayAggressive:
		return ModeThresholds{MinTrendADX: 15, StrongTrendADX: 25, StrongMomentumSlope: 1.5}
	case ModePrecision:
		return ModeThresholds{MinTrendADX: 12, StrongTrendADX: 20, StrongMomentumSlope: 1.0}
	default:
		return ModeThresholds{MinTrendADX: 20, StrongTrendADX: 30, StrongMomentumSlope: 2.0}
	}
}

// Regime is one full market-state read.
type Regime struct {
	Trend          Trend           `json:"trend"`
	TrendScore     float64         `json:"trend_score"`
	TrendTimeframe ohlcv.Timeframe `json:"trend_timeframe,omitempty"`
	Volatility     Volatility      `json:"volatility"`
	VolScore       float64         `json:"volatility_score"`
	Liquidity      Liquidity       `json:"liquidity"`
	LiqScore       float64         `json:"liquidity_score"`
	RiskAppetite   RiskAppetite    `json:"risk_appetite"`
	RiskScore      float64         `json:"risk_score"`
	Derivatives    Derivatives     `json:"derivatives"`
	DerivScore     float64         `json:"derivatives_score"`
	Composite      string          `json:"composite"`
	Score          float64         `json:"score"`
	DetectedAt     time.Time       `json:"detected_at"`
}

// Inputs is the raw material for one detection. Dominance readings arrive
// as plain values so the domain layer stays decoupled from providers; DomOK
// is false when every dominance source failed.
type Inputs struct {
	Bundle    *ohlcv.Bundle
	Set       *indicators.Set
	BTCDom    float64
	StableDom float64
	DomOK     bool
}

// Detector computes regimes and stabilizes the global composite.
type Detector struct {
	thr ModeThresholds

	mu   sync.Mutex
	stab stabilizer
	prev *Regime
}

// NewDetector builds a detector using the thresholds of the given mode.
func NewDetector(mode string) *Detector {
	return NewDetectorWithThresholds(ThresholdsFor(mode))
}

// NewDetectorWithThresholds builds a detector from explicit thresholds,
// for configs that override the built-in mode profiles.
func NewDetectorWithThresholds(thr ModeThresholds) *Detector {
	return &Detector{
		thr:  thr,
		stab: stabilizer{cap: historyCap, confirm: confirmRuns},
	}
}

// trendTFOrder is the preference list for the trend dimension, highest
// timeframe first.
var trendTFOrder = []ohlcv.Timeframe{
	ohlcv.TF1w, ohlcv.TF1d, ohlcv.TF4h, ohlcv.TF1h, ohlcv.TF30m, ohlcv.TF15m,
}

// DetectGlobal computes the market-wide regime and runs it through the
// anti-flip-flop filter. The returned flag reports whether the accepted
// composite changed from the previous call.
func (d *Detector) DetectGlobal(in Inputs) (Regime, bool) {
	fresh := d.compute(in)

	d.mu.Lock()
	defer d.mu.Unlock()

	before := d.stab.current
	accepted := d.stab.observe(fresh.Composite)
	if accepted == fresh.Composite {
		d.prev = &fresh
		return fresh, accepted != before
	}
	return *d.prev, false
}

// DetectSymbol computes a per-symbol regime. No hysteresis: per-symbol
// stability comes from the 60s cache in front of it. Cycle context, when
// present, can override a trending read at cycle extremes.
func (d *Detector) DetectSymbol(in Inputs, cyc *cycle.Context) Regime {
	r := d.compute(in)
	if cyc == nil {
		return r
	}

	down := r.Trend == TrendDown || r.Trend == TrendStrongDown
	up := r.Trend == TrendUp || r.Trend == TrendStrongUp
	switch {
	case down && cyc.AccumulationZone():
		r.Trend = TrendSideways
	case up && cyc.DistributionZone():
		r.Trend = TrendSideways
	default:
		return r
	}

	r.TrendScore += 10
	if r.TrendScore > 100 {
		r.TrendScore = 100
	}
	r.Composite = compositeOf(r.Trend, r.Volatility, r.RiskAppetite)
	r.Score = weighted(r)
	return r
}

// History returns a copy of the raw composite history.
func (d *Detector) History() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.stab.history))
	copy(out, d.stab.history)
	return out
}

// Current returns the last accepted composite, empty before the first run.
func (d *Detector) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stab.current
}

func (d *Detector) compute(in Inputs) Regime {
	r := Regime{
		Derivatives: DerivBalanced,
		DerivScore:  50,
		DetectedAt:  time.Now().UTC(),
	}

	tf, snap, snapOK := d.pickTrendTF(in)
	r.TrendTimeframe = tf
	r.Trend, r.TrendScore = d.trendDimension(in.Bundle, tf, snap, snapOK)
	r.Volatility, r.VolScore = volatilityDimension(snap, snapOK)
	r.Liquidity, r.LiqScore = liquidityDimension(snap, snapOK)
	r.RiskAppetite, r.RiskScore = riskDimension(in.BTCDom, in.StableDom, in.DomOK)

	r.Composite = compositeOf(r.Trend, r.Volatility, r.RiskAppetite)
	r.Score = weighted(r)
	return r
}

func (d *Detector) pickTrendTF(in Inputs) (ohlcv.Timeframe, indicators.Snapshot, bool) {
	if in.Bundle == nil {
		return "", indicators.Snapshot{}, false
	}
	for _, tf := range trendTFOrder {
		bars, ok := in.Bundle.Series[tf]
		if !ok || len(bars) < 2*swing.DefaultConfig().Lookback+1 {
			continue
		}
		if in.Set != nil {
			if snap, ok := in.Set.Get(tf); ok {
				return tf, snap, true
			}
		}
		return tf, indicators.Snapshot{}, false
	}
	return "", indicators.Snapshot{}, false
}

// trendDimension runs swing structure over a window of the chosen series
// (half the bars, clamped into [30, 80]) and grades the direction with ADX
// and normalized MA slope against the mode thresholds.
func (d *Detector) trendDimension(bundle *ohlcv.Bundle, tf ohlcv.Timeframe, snap indicators.Snapshot, snapOK bool) (Trend, float64) {
	if bundle == nil || tf == "" {
		return TrendSideways, 40
	}
	bars := bundle.Series[tf]
	window := len(bars) / 2
	if window < 30 {
		window = 30
	}
	if window > 80 {
		window = 80
	}
	if window > len(bars) {
		window = len(bars)
	}

	st := swing.Detect(tf, bars[len(bars)-window:], swing.DefaultConfig())
	return classifyTrend(st.Trend, snap, snapOK, d.thr)
}

func classifyTrend(sw swing.Trend, snap indicators.Snapshot, snapOK bool, thr ModeThresholds) (Trend, float64) {
	strongADX := snapOK && snap.ADX.Valid && snap.ADX.Value >= thr.StrongTrendADX
	slopeOK := snapOK && snap.MASlope.Valid

	switch sw {
	case swing.Bullish:
		if strongADX && slopeOK && snap.MASlope.Normalized > thr.StrongMomentumSlope {
			return TrendStrongUp, 85
		}
		return TrendUp, 70
	case swing.Bearish:
		if strongADX && slopeOK && snap.MASlope.Normalized < -thr.StrongMomentumSlope {
			return TrendStrongDown, 85
		}
		return TrendDown, 70
	default:
		if snapOK && snap.ADX.Valid && snap.ADX.Value < thr.MinTrendADX {
			return TrendSideways, 40
		}
		return TrendSideways, 50
	}
}

// volatilityDimension buckets ATR as a percent of price, not absolute ATR,
// so thresholds hold across symbols of any price scale.
func volatilityDimension(snap indicators.Snapshot, ok bool) (Volatility, float64) {
	if !ok || !snap.ATR.Valid || snap.Close <= 0 {
		return VolNormal, 50
	}
	switch {
	case snap.ATRPct < 0.8:
		return VolCompressed, 60
	case snap.ATRPct < 1.5:
		return VolNormal, 75
	case snap.ATRPct < 2.5:
		if snap.ATRExpanding(1.15) {
			return VolElevated, 55
		}
		return VolElevated, 60
	case snap.ATRPct < 4.0:
		return VolVolatile, 40
	default:
		return VolChaotic, 20
	}
}

func liquidityDimension(snap indicators.Snapshot, ok bool) (Liquidity, float64) {
	if !ok || snap.Vol20 <= 0 {
		return LiqThin, 40
	}
	ratio := snap.Vol5 / snap.Vol20
	switch {
	case ratio < 0.5:
		return LiqThin, 40
	case ratio < 1.5:
		return LiqHealthy, 75
	default:
		return LiqHeavy, 65
	}
}

// riskDimension applies the dominance rules first-match-wins. Stablecoin
// dominance flags flight to safety before BTC dominance splits the rest.
func riskDimension(btcDom, stableDom float64, ok bool) (RiskAppetite, float64) {
	if !ok {
		return RiskBalanced, 50
	}
	switch {
	case stableDom > 12:
		return RiskExtremeOff, 15
	case stableDom > 9:
		return RiskOff, 30
	case stableDom > 7.5:
		return RiskCautious, 45
	case btcDom > 60:
		return RiskBTCFlight, 40
	case btcDom > 55:
		return RiskBTCDominant, 50
	case btcDom < 48:
		return RiskAltSeason, 85
	case btcDom < 52:
		return RiskOn, 75
	case stableDom < 5:
		return RiskOn, 80
	default:
		return RiskBalanced, 60
	}
}

func compositeOf(tr Trend, vol Volatility, risk RiskAppetite) string {
	bull := tr == TrendUp || tr == TrendStrongUp
	bear := tr == TrendDown || tr == TrendStrongDown
	riskOff := risk == RiskOff || risk == RiskExtremeOff
	riskOn := risk == RiskOn || risk == RiskAltSeason

	switch {
	case tr == TrendSideways && riskOff:
		return "choppy_risk_off"
	case bull && riskOn:
		return "bullish_risk_on"
	case bear && riskOff:
		return "bearish_risk_off"
	case vol == VolChaotic:
		return "chaotic_volatile"
	case tr == TrendSideways && vol == VolCompressed:
		return "range_coiling"
	default:
		return fmt.Sprintf("%s_%s", tr, vol)
	}
}

func weighted(r Regime) float64 {
	return r.TrendScore*weightTrend +
		r.VolScore*weightVolatility +
		r.LiqScore*weightLiquidity +
		r.RiskScore*weightRisk +
		r.DerivScore*weightDerivatives
}

const (
	historyCap  = 20
	confirmRuns = 3
)

// stabilizer is the anti-flip-flop filter for the global composite. A new
// composite is accepted when it matches the current one, during bootstrap,
// or once it has been observed confirmRuns times in a row; otherwise the
// current composite stands. Discarded observations still enter the history.
type stabilizer struct {
	cap     int
	confirm int
	history []string
	current string
}

func (s *stabilizer) observe(c string) string {
	bootstrap := len(s.history) < s.confirm
	s.history = append(s.history, c)
	if len(s.history) > s.cap {
		s.history = s.history[len(s.history)-s.cap:]
	}

	switch {
	case s.current == "" || c == s.current:
		s.current = c
	case bootstrap:
		s.current = c
	case s.trailingRun(c) >= s.confirm:
		s.current = c
	}
	return s.current
}

func (s *stabilizer) trailingRun(c string) int {
	run := 0
	for i := len(s.history) - 1; i >= 0 && s.history[i] == c; i-- {
		run++
	}
	return run
}
