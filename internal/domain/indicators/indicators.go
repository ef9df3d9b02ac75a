// Package indicators computes the per-timeframe technical readings the
// scorer and regime detector consume. Every result carries a Valid flag;
// insufficient data yields neutral values, never panics.
package indicators

import (
	"math"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// ATRResult is the Wilder-smoothed Average True Range at the latest bar.
type ATRResult struct {
	Value  float64 `json:"value"`
	Period int     `json:"period"`
	Valid  bool    `json:"valid"`
}

// ATR computes the latest ATR value.
func ATR(bars []ohlcv.Bar, period int) ATRResult {
	series := ATRSeries(bars, period)
	if len(series) == 0 {
		return ATRResult{Period: period}
	}
	return ATRResult{Value: series[len(series)-1], Period: period, Valid: true}
}

// ATRSeries returns the rolling ATR for every bar where it is defined.
// Index 0 corresponds to bars[period].
func ATRSeries(bars []ohlcv.Bar, period int) []float64 {
	if period <= 0 || len(bars) < period+1 {
		return nil
	}
	tr := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	// Seed with an SMA, then Wilder smoothing.
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)

	out := make([]float64, 0, len(tr)-period+1)
	out = append(out, atr)
	alpha := 1.0 / float64(period)
	for i := period; i < len(tr); i++ {
		atr = atr*(1-alpha) + tr[i]*alpha
		out = append(out, atr)
	}
	return out
}

// RSIResult is the Wilder RSI at the latest bar.
type RSIResult struct {
	Value  float64 `json:"value"`
	Period int     `json:"period"`
	Valid  bool    `json:"valid"`
}

// RSI computes the Relative Strength Index. Returns a neutral 50 when the
// series is too short.
func RSI(prices []float64, period int) RSIResult {
	if period <= 0 || len(prices) < period+1 {
		return RSIResult{Value: 50, Period: period}
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
	}

	if avgLoss == 0 {
		return RSIResult{Value: 100, Period: period, Valid: true}
	}
	rs := avgGain / avgLoss
	return RSIResult{Value: 100 - 100/(1+rs), Period: period, Valid: true}
}

// MACDResult carries the MACD line, signal line, and histogram.
type MACDResult struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	Valid     bool    `json:"valid"`
}

// MACD computes MACD(fast, slow, signal) at the latest bar.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	if len(prices) < slow+signal {
		return MACDResult{}
	}
	fastEMA := emaSeries(prices, fast)
	slowEMA := emaSeries(prices, slow)

	// Align: slowEMA starts slow-1 bars in, fastEMA fast-1 bars in.
	offset := slow - fast
	macdLine := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macdLine[i] = fastEMA[i+offset] - slowEMA[i]
	}
	signalLine := emaSeries(macdLine, signal)
	if len(signalLine) == 0 {
		return MACDResult{}
	}
	line := macdLine[len(macdLine)-1]
	sig := signalLine[len(signalLine)-1]
	return MACDResult{Line: line, Signal: sig, Histogram: line - sig, Valid: true}
}

// BandsResult is a Bollinger band snapshot at the latest bar.
type BandsResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Valid  bool    `json:"valid"`
}

// Bollinger computes period-SMA bands at stddevs standard deviations.
func Bollinger(prices []float64, period int, stddevs float64) BandsResult {
	if period <= 0 || len(prices) < period {
		return BandsResult{}
	}
	window := prices[len(prices)-period:]
	mean := meanOf(window)
	sd := stddevOf(window, mean)
	return BandsResult{
		Upper:  mean + stddevs*sd,
		Middle: mean,
		Lower:  mean - stddevs*sd,
		Valid:  true,
	}
}

// ChannelResult is a Keltner channel snapshot at the latest bar.
type ChannelResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Valid  bool    `json:"valid"`
}

// Keltner computes an EMA midline channel at mult ATRs.
func Keltner(bars []ohlcv.Bar, period int, mult float64) ChannelResult {
	if period <= 0 || len(bars) < period+1 {
		return ChannelResult{}
	}
	ema := emaSeries(ohlcv.Closes(bars), period)
	atr := ATR(bars, period)
	if len(ema) == 0 || !atr.Valid {
		return ChannelResult{}
	}
	mid := ema[len(ema)-1]
	return ChannelResult{
		Upper:  mid + mult*atr.Value,
		Middle: mid,
		Lower:  mid - mult*atr.Value,
		Valid:  true,
	}
}

// SqueezeResult is the TTM squeeze state at the latest bar.
type SqueezeResult struct {
	On     bool `json:"on"`     // Bollinger inside Keltner
	Firing bool `json:"firing"` // squeeze released within the last few bars
	Valid  bool `json:"valid"`
}

// Squeeze detects the TTM squeeze: on when both Bollinger bands sit inside
// the Keltner channel. Firing means the squeeze was on recently and has just
// released, the classic expansion trigger.
func Squeeze(bars []ohlcv.Bar, period int) SqueezeResult {
	const lookback = 6
	if len(bars) < period+lookback+1 {
		return SqueezeResult{}
	}

	states := make([]bool, 0, lookback)
	for i := lookback - 1; i >= 0; i-- {
		window := bars[:len(bars)-i]
		bb := Bollinger(ohlcv.Closes(window), period, 2.0)
		kc := Keltner(window, period, 1.5)
		if !bb.Valid || !kc.Valid {
			return SqueezeResult{}
		}
		states = append(states, bb.Upper < kc.Upper && bb.Lower > kc.Lower)
	}

	now := states[len(states)-1]
	wasOn := false
	for _, s := range states[:len(states)-1] {
		if s {
			wasOn = true
			break
		}
	}
	return SqueezeResult{On: now, Firing: !now && wasOn, Valid: true}
}

// ADXResult carries trend strength and the directional indicators.
type ADXResult struct {
	Value   float64 `json:"value"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`
	Period  int     `json:"period"`
	Valid   bool    `json:"valid"`
}

// ADX computes the Average Directional Index with Wilder smoothing of the DX
// series.
func ADX(bars []ohlcv.Bar, period int) ADXResult {
	if period <= 0 || len(bars) < 2*period+1 {
		return ADXResult{Period: period}
	}

	n := len(bars) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i-1] = math.Max(hl, math.Max(hc, lc))

		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	alpha := 1.0 / float64(period)
	smTR := sumOf(tr[:period])
	smPlus := sumOf(plusDM[:period])
	smMinus := sumOf(minusDM[:period])

	dx := func() float64 {
		if smTR == 0 {
			return 0
		}
		pdi := 100 * smPlus / smTR
		mdi := 100 * smMinus / smTR
		if pdi+mdi == 0 {
			return 0
		}
		return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}

	adx := dx()
	seeded := 1
	for i := period; i < n; i++ {
		smTR = smTR*(1-alpha) + tr[i]
		smPlus = smPlus*(1-alpha) + plusDM[i]
		smMinus = smMinus*(1-alpha) + minusDM[i]
		d := dx()
		if seeded < period {
			adx += d
			seeded++
			if seeded == period {
				adx /= float64(period)
			}
		} else {
			adx = adx*(1-alpha) + d*alpha
		}
	}

	var pdi, mdi float64
	if smTR > 0 {
		pdi = 100 * smPlus / smTR
		mdi = 100 * smMinus / smTR
	}
	return ADXResult{Value: adx, PlusDI: pdi, MinusDI: mdi, Period: period, Valid: true}
}

// SlopeResult is the 20-bar moving-average slope normalized by ATR percent.
type SlopeResult struct {
	SlopePct   float64 `json:"slope_pct"`  // MA change over the window, percent
	Normalized float64 `json:"normalized"` // SlopePct / ATR%
	Valid      bool    `json:"valid"`
}

// MASlope measures how steeply the period-SMA moved over the last `period`
// bars, in percent, then normalizes by ATR% so thresholds transfer across
// symbols with different volatility.
func MASlope(bars []ohlcv.Bar, period int, atrPct float64) SlopeResult {
	if period <= 0 || len(bars) < 2*period {
		return SlopeResult{}
	}
	closes := ohlcv.Closes(bars)
	maNow := meanOf(closes[len(closes)-period:])
	maThen := meanOf(closes[len(closes)-2*period : len(closes)-period])
	if maThen == 0 {
		return SlopeResult{}
	}
	slopePct := (maNow - maThen) / maThen * 100
	norm := 0.0
	if atrPct > 0 {
		norm = slopePct / atrPct
	}
	return SlopeResult{SlopePct: slopePct, Normalized: norm, Valid: true}
}

func emaSeries(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	ema := meanOf(prices[:period])
	out := make([]float64, 0, len(prices)-period+1)
	out = append(out, ema)
	for i := period; i < len(prices); i++ {
		ema = prices[i]*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sumOf(v) / float64(len(v))
}

func sumOf(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func stddevOf(v []float64, mean float64) float64 {
	if len(v) < 2 {
		return 0
	}
	var ss float64
	for _, x := range v {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(v)))
}
