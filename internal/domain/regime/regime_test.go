package regime

import (
	"math"
	"testing"
	"time"

	"github.com/smcscan/smcscan/internal/domain/cycle"
	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/swing"
)

func almostEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestThresholdsFor(t *testing.T) {
	cases := []struct {
		mode        string
		adx, strong float64
		slope       float64
	}{
		{ModeMacroSurveillance, 25, 35, 3.0},
		{ModeStealthBalanced, 20, 30, 2.0},
		{ModeIntradayAggressive, 15, 25, 1.5},
		{ModePrecision, 12, 20, 1.0},
		{"unheard_of", 20, 30, 2.0},
	}
	for _, c := range cases {
		thr := ThresholdsFor(c.mode)
		if thr.MinTrendADX != c.adx || thr.StrongTrendADX != c.strong || thr.StrongMomentumSlope != c.slope {
			t.Errorf("%s: got %+v", c.mode, thr)
		}
	}
}

func TestRiskAppetiteRules(t *testing.T) {
	cases := []struct {
		btc, stable float64
		want        RiskAppetite
		score       float64
	}{
		{50, 13, RiskExtremeOff, 15},
		{50, 10, RiskOff, 30},
		{50, 8, RiskCautious, 45},
		{65, 3, RiskBTCFlight, 40}, // BTC flight outranks the low-stable bonus
		{56, 6, RiskBTCDominant, 50},
		{45, 6, RiskAltSeason, 85},
		{50, 6, RiskOn, 75},
		{53, 6, RiskBalanced, 60},
		{53, 3, RiskOn, 80},
	}
	for _, c := range cases {
		got, score := riskDimension(c.btc, c.stable, true)
		if got != c.want || !almostEq(score, c.score) {
			t.Errorf("btc=%.1f stable=%.1f: got %s(%.0f), want %s(%.0f)", c.btc, c.stable, got, score, c.want, c.score)
		}
	}

	if got, score := riskDimension(50, 6, false); got != RiskBalanced || !almostEq(score, 50) {
		t.Errorf("source failure: got %s(%.0f), want balanced(50)", got, score)
	}
}

func snapWithATRPct(pct float64, series []float64) indicators.Snapshot {
	return indicators.Snapshot{
		Close:     100,
		ATR:       indicators.ATRResult{Value: pct, Period: 14, Valid: true},
		ATRPct:    pct,
		ATRSeries: series,
	}
}

func TestVolatilityBuckets(t *testing.T) {
	flat := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	expanding := []float64{1, 1, 1, 1, 1, 1.3, 1.3, 1.3, 1.3, 1.3}

	cases := []struct {
		pct    float64
		series []float64
		want   Volatility
		score  float64
	}{
		{0.5, flat, VolCompressed, 60},
		{1.0, flat, VolNormal, 75},
		{2.0, flat, VolElevated, 60},
		{2.0, expanding, VolElevated, 55},
		{3.0, flat, VolVolatile, 40},
		{5.0, flat, VolChaotic, 20},
		// Exact bucket edges belong to the higher-volatility side.
		{0.8, flat, VolNormal, 75},
		{1.5, flat, VolElevated, 60},
		{2.5, flat, VolVolatile, 40},
		{4.0, flat, VolChaotic, 20},
	}
	for _, c := range cases {
		got, score := volatilityDimension(snapWithATRPct(c.pct, c.series), true)
		if got != c.want || !almostEq(score, c.score) {
			t.Errorf("atr%%=%.1f: got %s(%.0f), want %s(%.0f)", c.pct, got, score, c.want, c.score)
		}
	}

	if got, score := volatilityDimension(indicators.Snapshot{}, false); got != VolNormal || !almostEq(score, 50) {
		t.Errorf("missing snapshot: got %s(%.0f), want normal(50)", got, score)
	}
}

func TestLiquidityBuckets(t *testing.T) {
	cases := []struct {
		vol5, vol20 float64
		want        Liquidity
		score       float64
	}{
		{40, 100, LiqThin, 40},
		{100, 100, LiqHealthy, 75},
		{200, 100, LiqHeavy, 65},
		{100, 0, LiqThin, 40},
	}
	for _, c := range cases {
		got, score := liquidityDimension(indicators.Snapshot{Vol5: c.vol5, Vol20: c.vol20}, true)
		if got != c.want || !almostEq(score, c.score) {
			t.Errorf("vol5/vol20=%.0f/%.0f: got %s(%.0f), want %s(%.0f)", c.vol5, c.vol20, got, score, c.want, c.score)
		}
	}
}

func TestClassifyTrend(t *testing.T) {
	thr := ThresholdsFor(ModeStealthBalanced)
	snap := func(adx, slope float64) indicators.Snapshot {
		return indicators.Snapshot{
			ADX:     indicators.ADXResult{Value: adx, Valid: true},
			MASlope: indicators.SlopeResult{Normalized: slope, Valid: true},
		}
	}

	if tr, score := classifyTrend(swing.Bullish, snap(35, 2.5), true, thr); tr != TrendStrongUp || score != 85 {
		t.Errorf("strong bull: got %s(%.0f)", tr, score)
	}
	if tr, score := classifyTrend(swing.Bullish, snap(20, 2.5), true, thr); tr != TrendUp || score != 70 {
		t.Errorf("weak ADX bull: got %s(%.0f)", tr, score)
	}
	if tr, _ := classifyTrend(swing.Bullish, snap(35, 1.0), true, thr); tr != TrendUp {
		t.Errorf("weak slope bull: got %s", tr)
	}
	if tr, score := classifyTrend(swing.Bearish, snap(40, -3.0), true, thr); tr != TrendStrongDown || score != 85 {
		t.Errorf("strong bear: got %s(%.0f)", tr, score)
	}
	if tr, score := classifyTrend(swing.Neutral, snap(10, 0), true, thr); tr != TrendSideways || score != 40 {
		t.Errorf("confirmed chop: got %s(%.0f)", tr, score)
	}
	if tr, score := classifyTrend(swing.Neutral, snap(25, 0), true, thr); tr != TrendSideways || score != 50 {
		t.Errorf("unconfirmed chop: got %s(%.0f)", tr, score)
	}
	if tr, _ := classifyTrend(swing.Bullish, indicators.Snapshot{}, false, thr); tr != TrendUp {
		t.Errorf("missing snapshot bull: got %s", tr)
	}
}

func TestCompositeRules(t *testing.T) {
	cases := []struct {
		tr   Trend
		vol  Volatility
		risk RiskAppetite
		want string
	}{
		{TrendSideways, VolNormal, RiskOff, "choppy_risk_off"},
		{TrendSideways, VolChaotic, RiskExtremeOff, "choppy_risk_off"},
		{TrendUp, VolNormal, RiskOn, "bullish_risk_on"},
		{TrendStrongUp, VolElevated, RiskAltSeason, "bullish_risk_on"},
		{TrendDown, VolChaotic, RiskOff, "bearish_risk_off"},
		{TrendUp, VolChaotic, RiskBalanced, "chaotic_volatile"},
		{TrendSideways, VolCompressed, RiskBalanced, "range_coiling"},
		{TrendUp, VolElevated, RiskBalanced, "up_elevated"},
		{TrendStrongDown, VolVolatile, RiskCautious, "strong_down_volatile"},
	}
	for _, c := range cases {
		if got := compositeOf(c.tr, c.vol, c.risk); got != c.want {
			t.Errorf("(%s,%s,%s): got %s, want %s", c.tr, c.vol, c.risk, got, c.want)
		}
	}
}

func TestStabilizerConfirmations(t *testing.T) {
	s := stabilizer{cap: historyCap, confirm: confirmRuns}

	// Bootstrap accepts immediately.
	if got := s.observe("A"); got != "A" {
		t.Fatalf("bootstrap: got %s", got)
	}
	s.observe("A")
	s.observe("A")

	// A single dissent never flips a stable regime.
	if got := s.observe("B"); got != "A" {
		t.Fatalf("single B: got %s, want A", got)
	}
	if got := s.observe("B"); got != "A" {
		t.Fatalf("second B: got %s, want A", got)
	}
	// The third consecutive confirmation flips.
	if got := s.observe("B"); got != "B" {
		t.Fatalf("third B: got %s, want B", got)
	}

	// An interruption resets the run.
	s.observe("C")
	s.observe("C")
	if got := s.observe("B"); got != "B" {
		t.Fatalf("interrupted C run: got %s, want B", got)
	}

	if len(s.history) > historyCap {
		t.Fatalf("history grew to %d", len(s.history))
	}
	for i := 0; i < 30; i++ {
		s.observe("B")
	}
	if len(s.history) != historyCap {
		t.Fatalf("history = %d entries, want capped at %d", len(s.history), historyCap)
	}
}

// slide builds a smooth descending series: no interior swing extrema, so the
// trend dimension reads sideways while everything else stays deterministic.
func slide(n int) []ohlcv.Bar {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]ohlcv.Bar, 0, n)
	for i := 0; i < n; i++ {
		c := 200 - 0.5*float64(i)
		bars = append(bars, ohlcv.Bar{
			Timestamp: base.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c + 0.25,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		})
	}
	return bars
}

func TestDetectGlobalHysteresis(t *testing.T) {
	bundle := ohlcv.Bundle{Symbol: "BTC/USDT", Series: map[ohlcv.Timeframe][]ohlcv.Bar{
		ohlcv.TF4h: slide(80),
	}}
	in := Inputs{Bundle: &bundle, Set: indicators.Compute(&bundle)}

	d := NewDetector(ModeStealthBalanced)
	r, changed := d.DetectGlobal(in)
	if !changed {
		t.Fatal("first detection should establish the regime")
	}
	if r.TrendTimeframe != ohlcv.TF4h {
		t.Fatalf("trend timeframe = %s, want 4h", r.TrendTimeframe)
	}
	if r.Trend != TrendSideways || r.Volatility != VolCompressed || r.Liquidity != LiqHealthy {
		t.Fatalf("dimensions = %s/%s/%s", r.Trend, r.Volatility, r.Liquidity)
	}
	if r.RiskAppetite != RiskBalanced || !almostEq(r.RiskScore, 50) {
		t.Fatalf("no dominance data: risk = %s(%.0f), want balanced(50)", r.RiskAppetite, r.RiskScore)
	}
	if r.Composite != "range_coiling" {
		t.Fatalf("composite = %s, want range_coiling", r.Composite)
	}
	if !almostEq(r.Score, 57) {
		t.Fatalf("score = %.4f, want 57", r.Score)
	}

	r2, changed := d.DetectGlobal(in)
	if changed || r2.Composite != "range_coiling" {
		t.Fatalf("repeat detection changed=%v composite=%s", changed, r2.Composite)
	}
	if got := len(d.History()); got != 2 {
		t.Fatalf("history = %d entries, want 2", got)
	}
	if d.Current() != "range_coiling" {
		t.Fatalf("current = %s", d.Current())
	}
}

func leg(out []float64, to float64, steps int) []float64 {
	from := out[len(out)-1]
	for k := 1; k <= steps; k++ {
		out = append(out, from+(to-from)*float64(k)/float64(steps))
	}
	return out
}

// zig turns center values into bars with 0.5 wicks; steps of 0.5 keep every
// true range at exactly 1.0 so swing strengths are deterministic.
func zig(centers []float64) []ohlcv.Bar {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]ohlcv.Bar, 0, len(centers))
	prev := centers[0]
	for i, c := range centers {
		o := prev
		if o > c+0.5 {
			o = c + 0.5
		}
		if o < c-0.5 {
			o = c - 0.5
		}
		bars = append(bars, ohlcv.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      o,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		})
		prev = c
	}
	return bars
}

func downtrendCenters() []float64 {
	c := make([]float64, 0, 80)
	for i := 0; i < 40; i++ {
		c = append(c, 100)
	}
	c = append(c, 100)
	c = leg(c, 102, 4)
	c = leg(c, 99, 6)
	c = leg(c, 101, 4)
	c = leg(c, 98, 6)
	c = leg(c, 100, 4)
	c = leg(c, 97, 6)
	c = leg(c, 99, 4)
	c = leg(c, 96.5, 5)
	return c
}

func uptrendCenters() []float64 {
	down := downtrendCenters()
	up := make([]float64, len(down))
	for i, v := range down {
		up[i] = 200 - v
	}
	return up
}

func TestDetectSymbolCycleOverride(t *testing.T) {
	d := NewDetector(ModeMacroSurveillance)

	bundle := ohlcv.Bundle{Symbol: "ETH/USDT", Series: map[ohlcv.Timeframe][]ohlcv.Bar{
		ohlcv.TF1d: zig(downtrendCenters()),
	}}
	in := Inputs{Bundle: &bundle, Set: indicators.Compute(&bundle)}

	plain := d.DetectSymbol(in, nil)
	if plain.Trend != TrendDown || !almostEq(plain.TrendScore, 70) {
		t.Fatalf("baseline = %s(%.0f), want down(70)", plain.Trend, plain.TrendScore)
	}

	accum := &cycle.Context{Daily: cycle.State{InWindow: true}}
	r := d.DetectSymbol(in, accum)
	if r.Trend != TrendSideways || !almostEq(r.TrendScore, 80) {
		t.Fatalf("accumulation override = %s(%.0f), want sideways(80)", r.Trend, r.TrendScore)
	}
	if r.Composite != "sideways_normal" {
		t.Fatalf("composite = %s, want sideways_normal", r.Composite)
	}
	if !almostEq(r.Score, 69) {
		t.Fatalf("score = %.4f, want 69", r.Score)
	}

	// A failed cycle is not an accumulation zone; no override.
	failed := &cycle.Context{Daily: cycle.State{InWindow: true, Failed: true}}
	if r := d.DetectSymbol(in, failed); r.Trend != TrendDown {
		t.Fatalf("failed cycle override = %s, want down", r.Trend)
	}

	upBundle := ohlcv.Bundle{Symbol: "SOL/USDT", Series: map[ohlcv.Timeframe][]ohlcv.Bar{
		ohlcv.TF1d: zig(uptrendCenters()),
	}}
	upIn := Inputs{Bundle: &upBundle, Set: indicators.Compute(&upBundle)}

	if r := d.DetectSymbol(upIn, nil); r.Trend != TrendUp {
		t.Fatalf("uptrend baseline = %s, want up", r.Trend)
	}
	distrib := &cycle.Context{Weekly: cycle.State{Translation: cycle.LTR}}
	if r := d.DetectSymbol(upIn, distrib); r.Trend != TrendSideways {
		t.Fatalf("distribution override = %s, want sideways", r.Trend)
	}
}
