package ohlcv

import (
	"fmt"
)

// Minimum bars required downstream. Structure analysis wants a full swing
// window, ATR only needs its period plus one seed bar.
const (
	MinBarsStructure = 50
	MinBarsATR       = 14
)

// Bundle holds one symbol's multi-timeframe candle series for a single scan
// pass. Built by ingest, read by every analysis stage, discarded when the
// symbol completes.
type Bundle struct {
	Symbol string
	Series map[Timeframe][]Bar
}

// NewBundle allocates an empty bundle for a symbol.
func NewBundle(symbol string) *Bundle {
	return &Bundle{
		Symbol: symbol,
		Series: make(map[Timeframe][]Bar),
	}
}

// Put stores a cleaned series for a timeframe after verifying spacing and the
// minimum bar count.
func (m *Bundle) Put(tf Timeframe, bars []Bar, minBars int) error {
	if len(bars) < minBars {
		return fmt.Errorf("%w: %s %s has %d bars, need %d",
			ErrInsufficientData, m.Symbol, tf, len(bars), minBars)
	}
	if err := CheckSpacing(bars, tf); err != nil {
		return fmt.Errorf("%s %s: %w", m.Symbol, tf, err)
	}
	m.Series[tf] = bars
	return nil
}

// Get returns the series for a timeframe, or false when absent.
func (m *Bundle) Get(tf Timeframe) ([]Bar, bool) {
	bars, ok := m.Series[tf]
	return bars, ok
}

// Has reports whether every listed timeframe is present.
func (m *Bundle) Has(tfs ...Timeframe) bool {
	for _, tf := range tfs {
		if _, ok := m.Series[tf]; !ok {
			return false
		}
	}
	return true
}

// Highest returns the longest-duration timeframe present from the given
// preference list, ordered highest first.
func (m *Bundle) Highest(prefs []Timeframe) (Timeframe, bool) {
	for _, tf := range prefs {
		if _, ok := m.Series[tf]; ok {
			return tf, true
		}
	}
	return "", false
}

// LastClose returns the most recent close on the lowest timeframe available,
// scanning the preference order lowest-duration first.
func (m *Bundle) LastClose() (float64, bool) {
	var best Timeframe
	bestSecs := int64(1<<62 - 1)
	for tf, bars := range m.Series {
		if len(bars) == 0 {
			continue
		}
		if s := tf.Seconds(); s < bestSecs {
			bestSecs = s
			best = tf
		}
	}
	if best == "" {
		return 0, false
	}
	bars := m.Series[best]
	return bars[len(bars)-1].Close, true
}

// Timeframes lists the timeframes present, unordered.
func (m *Bundle) Timeframes() []Timeframe {
	out := make([]Timeframe, 0, len(m.Series))
	for tf := range m.Series {
		out = append(out, tf)
	}
	return out
}
