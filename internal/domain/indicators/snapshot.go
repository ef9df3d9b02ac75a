package indicators

import (
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Standard periods used across the scanner.
const (
	ATRPeriod     = 14
	RSIPeriod     = 14
	ADXPeriod     = 14
	BandPeriod    = 20
	SlopePeriod   = 20
	ATRSeriesKeep = 10
)

// Snapshot is one timeframe's indicator readings at the latest closed bar.
type Snapshot struct {
	Timeframe ohlcv.Timeframe `json:"timeframe"`
	Close     float64         `json:"close"`

	ATR       ATRResult     `json:"atr"`
	ATRPct    float64       `json:"atr_pct"` // ATR / close * 100, 0 when ATR invalid
	ATRSeries []float64     `json:"atr_series"`
	Bollinger BandsResult   `json:"bollinger"`
	Keltner   ChannelResult `json:"keltner"`
	Squeeze   SqueezeResult `json:"squeeze"`
	RSI       RSIResult     `json:"rsi"`
	MACD      MACDResult    `json:"macd"`
	ADX       ADXResult     `json:"adx"`
	MASlope   SlopeResult   `json:"ma_slope"`

	// Rolling volume means feeding the liquidity dimension.
	Vol5  float64 `json:"vol5"`
	Vol20 float64 `json:"vol20"`
}

// ATRExpanding reports whether the recent ATR average exceeds the prior
// window by the given ratio (1.15 marks expansion in the regime detector).
func (s Snapshot) ATRExpanding(ratio float64) bool {
	if len(s.ATRSeries) < 10 {
		return false
	}
	recent := meanOf(s.ATRSeries[len(s.ATRSeries)-5:])
	prior := meanOf(s.ATRSeries[len(s.ATRSeries)-10 : len(s.ATRSeries)-5])
	if prior == 0 {
		return false
	}
	return recent/prior > ratio
}

// Set holds snapshots for every timeframe of one symbol's bundle.
type Set struct {
	Symbol string                       `json:"symbol"`
	PerTF  map[ohlcv.Timeframe]Snapshot `json:"per_tf"`
}

// Get returns the snapshot for a timeframe.
func (s *Set) Get(tf ohlcv.Timeframe) (Snapshot, bool) {
	snap, ok := s.PerTF[tf]
	return snap, ok
}

// Compute builds the snapshot set for a bundle. Each timeframe is computed
// once per scan pass and discarded with the bundle.
func Compute(bundle *ohlcv.Bundle) *Set {
	set := &Set{Symbol: bundle.Symbol, PerTF: make(map[ohlcv.Timeframe]Snapshot, len(bundle.Series))}
	for tf, bars := range bundle.Series {
		set.PerTF[tf] = ComputeSnapshot(tf, bars)
	}
	return set
}

// ComputeSnapshot computes all readings for a single series.
func ComputeSnapshot(tf ohlcv.Timeframe, bars []ohlcv.Bar) Snapshot {
	snap := Snapshot{Timeframe: tf}
	if len(bars) == 0 {
		return snap
	}
	closes := ohlcv.Closes(bars)
	snap.Close = closes[len(closes)-1]

	snap.ATR = ATR(bars, ATRPeriod)
	if snap.ATR.Valid && snap.Close > 0 {
		snap.ATRPct = snap.ATR.Value / snap.Close * 100
	}
	if series := ATRSeries(bars, ATRPeriod); len(series) > 0 {
		keep := ATRSeriesKeep
		if len(series) < keep {
			keep = len(series)
		}
		snap.ATRSeries = series[len(series)-keep:]
	}

	snap.Bollinger = Bollinger(closes, BandPeriod, 2.0)
	snap.Keltner = Keltner(bars, BandPeriod, 1.5)
	snap.Squeeze = Squeeze(bars, BandPeriod)
	snap.RSI = RSI(closes, RSIPeriod)
	snap.MACD = MACD(closes, 12, 26, 9)
	snap.ADX = ADX(bars, ADXPeriod)
	snap.MASlope = MASlope(bars, SlopePeriod, snap.ATRPct)

	volumes := ohlcv.Volumes(bars)
	if len(volumes) >= 5 {
		snap.Vol5 = meanOf(volumes[len(volumes)-5:])
	}
	if len(volumes) >= 20 {
		snap.Vol20 = meanOf(volumes[len(volumes)-20:])
	}
	return snap
}
