package ohlcv

import (
	"fmt"
	"time"
)

// Timeframe is a candle interval code as used by exchange kline endpoints.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF8h  Timeframe = "8h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF3d  Timeframe = "3d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
)

// timeframeSeconds pins the duration of every supported interval. The 1M entry
// uses 30 days, matching how exchanges bucket monthly klines.
var timeframeSeconds = map[Timeframe]int64{
	TF1m:  60,
	TF3m:  180,
	TF5m:  300,
	TF15m: 900,
	TF30m: 1800,
	TF1h:  3600,
	TF2h:  7200,
	TF4h:  14400,
	TF6h:  21600,
	TF8h:  28800,
	TF12h: 43200,
	TF1d:  86400,
	TF3d:  259200,
	TF1w:  604800,
	TF1M:  2592000,
}

// Timeframes lists all supported intervals in ascending duration order.
func Timeframes() []Timeframe {
	return []Timeframe{
		TF1m, TF3m, TF5m, TF15m, TF30m, TF1h, TF2h, TF4h,
		TF6h, TF8h, TF12h, TF1d, TF3d, TF1w, TF1M,
	}
}

// ParseTimeframe validates a timeframe code.
func ParseTimeframe(code string) (Timeframe, error) {
	tf := Timeframe(code)
	if _, ok := timeframeSeconds[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", code)
	}
	return tf, nil
}

// Duration returns the bar interval. Zero for unknown codes.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(timeframeSeconds[tf]) * time.Second
}

// Seconds returns the bar interval in seconds. Zero for unknown codes.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

// Valid reports whether the code is a supported interval.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeSeconds[tf]
	return ok
}

func (tf Timeframe) String() string {
	return string(tf)
}

// InferTimeframe guesses the interval from median bar spacing. Helper for
// adapters that return unlabeled series; callers pass the timeframe explicitly
// whenever they have it.
func InferTimeframe(bars []Bar) (Timeframe, bool) {
	if len(bars) < 2 {
		return "", false
	}
	gaps := make([]int64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		gaps = append(gaps, int64(bars[i].Timestamp.Sub(bars[i-1].Timestamp).Seconds()))
	}
	median := medianInt64(gaps)

	var best Timeframe
	bestDiff := int64(1<<62 - 1)
	for tf, secs := range timeframeSeconds {
		diff := median - secs
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = tf
		}
	}
	// Reject matches further than 10% off the candidate interval.
	if best == "" || bestDiff*10 > timeframeSeconds[best] {
		return "", false
	}
	return best, true
}

func medianInt64(v []int64) int64 {
	if len(v) == 0 {
		return 0
	}
	s := make([]int64, len(v))
	copy(s, v)
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
	return s[len(s)/2]
}
