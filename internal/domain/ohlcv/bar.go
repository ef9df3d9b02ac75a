package ohlcv

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBadBar marks a bar that violates the OHLC ordering invariant.
	ErrBadBar = errors.New("bad ohlcv bar")

	// ErrInsufficientData marks a series too short for the requested analysis.
	ErrInsufficientData = errors.New("insufficient ohlcv data")
)

// Bar is one closed candle. Immutable once it passes ingest validation.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate enforces low <= min(open,close) <= max(open,close) <= high and
// volume >= 0.
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrBadBar)
	}
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if b.Low > lo {
		return fmt.Errorf("%w: low %.8f above body low %.8f", ErrBadBar, b.Low, lo)
	}
	if b.High < hi {
		return fmt.Errorf("%w: high %.8f below body high %.8f", ErrBadBar, b.High, hi)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume %.8f", ErrBadBar, b.Volume)
	}
	return nil
}

// Range returns high minus low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Clean drops malformed bars, sorts the remainder ascending by timestamp, and
// removes duplicate timestamps keeping the last occurrence. Adapters are
// untrusted; every ingested series goes through here before analysis.
func Clean(bars []Bar) (kept []Bar, dropped int) {
	kept = make([]Bar, 0, len(bars))
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			dropped++
			continue
		}
		kept = append(kept, b)
	}
	sortBars(kept)

	// Duplicate timestamps collapse to the most recently reported bar.
	out := kept[:0]
	for i, b := range kept {
		if i > 0 && b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out[len(out)-1] = b
			dropped++
			continue
		}
		out = append(out, b)
	}
	return out, dropped
}

// CheckSpacing verifies strictly monotonic timestamps spaced by the timeframe
// duration. Gaps of whole multiples are tolerated (exchanges skip empty
// candles); irregular spacing is not.
func CheckSpacing(bars []Bar, tf Timeframe) error {
	step := tf.Seconds()
	if step == 0 {
		return fmt.Errorf("unknown timeframe %q", tf)
	}
	for i := 1; i < len(bars); i++ {
		gap := int64(bars[i].Timestamp.Sub(bars[i-1].Timestamp).Seconds())
		if gap <= 0 {
			return fmt.Errorf("%w: non-monotonic timestamp at index %d", ErrBadBar, i)
		}
		if gap%step != 0 {
			return fmt.Errorf("%w: gap %ds not a multiple of %s at index %d", ErrBadBar, gap, tf, i)
		}
	}
	return nil
}

// Closes extracts the close series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volume series.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

func sortBars(bars []Bar) {
	// Series arrive near-sorted; insertion sort keeps the common case cheap.
	for i := 1; i < len(bars); i++ {
		for j := i; j > 0 && bars[j].Timestamp.Before(bars[j-1].Timestamp); j-- {
			bars[j-1], bars[j] = bars[j], bars[j-1]
		}
	}
}
