// Package swing extracts alternating swing highs and lows from a single
// timeframe, grades each against ATR, labels the sequence HH/HL/LH/LL and
// derives the structural trend. The strict high/low alternation after
// deduplication is what downstream structure-break logic relies on.
package swing

import (
	"math"
	"time"

	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Label classifies a swing against the previous labeled swing of its kind.
type Label string

const (
	HH Label = "HH"
	HL Label = "HL"
	LH Label = "LH"
	LL Label = "LL"
)

// Trend is the structural read over the recent labels.
type Trend string

const (
	Bullish Trend = "bullish"
	Bearish Trend = "bearish"
	Neutral Trend = "neutral"
)

// trendWindow is how many trailing labels the trend vote considers.
const trendWindow = 6

// Point is one labeled swing extreme.
type Point struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Index     int       `json:"index"`
	IsHigh    bool      `json:"is_high"`
	Strength  float64   `json:"strength"`
	Label     Label     `json:"label"`
}

// Structure is the ordered swing sequence plus the derived trend.
type Structure struct {
	Timeframe ohlcv.Timeframe `json:"timeframe"`
	Points    []Point         `json:"points"`
	Trend     Trend           `json:"trend"`
}

// Labels returns the label sequence in time order.
func (s Structure) Labels() []Label {
	out := make([]Label, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Label
	}
	return out
}

// LastHigh returns the most recent swing high.
func (s Structure) LastHigh() (Point, bool) { return s.lastOfKind(true) }

// LastLow returns the most recent swing low.
func (s Structure) LastLow() (Point, bool) { return s.lastOfKind(false) }

func (s Structure) lastOfKind(high bool) (Point, bool) {
	for i := len(s.Points) - 1; i >= 0; i-- {
		if s.Points[i].IsHigh == high {
			return s.Points[i], true
		}
	}
	return Point{}, false
}

// NearestLevel returns the swing point whose price is closest to price.
// Used as the reversal-zone reference for counter-trend proximity checks.
func (s Structure) NearestLevel(price float64) (Point, bool) {
	var best Point
	bestDist := math.MaxFloat64
	found := false
	for _, p := range s.Points {
		if d := math.Abs(p.Price - price); d < bestDist {
			best, bestDist, found = p, d, true
		}
	}
	return best, found
}

// Config tunes the detector. Zero fields fall back to defaults.
type Config struct {
	Lookback    int     `yaml:"lookback"`
	ATRPeriod   int     `yaml:"atr_period"`
	MinSwingATR float64 `yaml:"min_swing_atr"`
}

// DefaultConfig returns the tuning used by the regime detector and scorer.
func DefaultConfig() Config {
	return Config{
		Lookback:    5,
		ATRPeriod:   14,
		MinSwingATR: 0.5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Lookback <= 0 {
		c.Lookback = def.Lookback
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = def.ATRPeriod
	}
	if c.MinSwingATR <= 0 {
		c.MinSwingATR = def.MinSwingATR
	}
	return c
}

// Detect builds the swing structure for one series. A series too short for
// a single symmetric window yields an empty, neutral structure.
//
// Raw extremes are deduplicated to a strict high/low alternation, weak
// swings (strength below MinSwingATR) are discarded, and the survivors are
// deduplicated again so the alternation invariant holds after filtering.
func Detect(tf ohlcv.Timeframe, bars []ohlcv.Bar, cfg Config) Structure {
	cfg = cfg.withDefaults()
	st := Structure{Timeframe: tf, Trend: Neutral}
	n := len(bars)
	if n < 2*cfg.Lookback+1 {
		return st
	}

	atrs := indicators.ATRSeries(bars, cfg.ATRPeriod)
	fallback := meanRange(bars)
	atrAt := func(i int) float64 {
		if len(atrs) == 0 {
			return fallback
		}
		j := i - cfg.ATRPeriod
		if j < 0 {
			j = 0
		}
		if j >= len(atrs) {
			j = len(atrs) - 1
		}
		if atrs[j] > 0 {
			return atrs[j]
		}
		return fallback
	}

	var raw []Point
	for i := cfg.Lookback; i < n-cfg.Lookback; i++ {
		isHigh, isLow := true, true
		for j := i - cfg.Lookback; j <= i+cfg.Lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].High > bars[i].High {
				isHigh = false
			}
			if bars[j].Low < bars[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			raw = append(raw, point(bars[i], i, true, atrAt(i)))
		}
		if isLow {
			raw = append(raw, point(bars[i], i, false, atrAt(i)))
		}
	}

	pts := dedupe(raw)
	pts = filterWeak(pts, cfg.MinSwingATR)
	pts = dedupe(pts)
	label(pts)

	st.Points = pts
	st.Trend = trendOf(pts)
	return st
}

func point(b ohlcv.Bar, i int, high bool, atr float64) Point {
	price := b.Low
	if high {
		price = b.High
	}
	strength := 0.0
	if atr > 0 {
		strength = math.Abs(price-b.Close) / atr
	}
	return Point{
		Price:     price,
		Timestamp: b.Timestamp,
		Index:     i,
		IsHigh:    high,
		Strength:  strength,
	}
}

// dedupe collapses consecutive same-type swings, keeping the more extreme
// one, until the sequence strictly alternates.
func dedupe(points []Point) []Point {
	for {
		changed := false
		out := make([]Point, 0, len(points))
		for _, p := range points {
			if len(out) == 0 {
				out = append(out, p)
				continue
			}
			last := &out[len(out)-1]
			if last.IsHigh != p.IsHigh {
				out = append(out, p)
				continue
			}
			changed = true
			if p.IsHigh && p.Price > last.Price {
				*last = p
			}
			if !p.IsHigh && p.Price < last.Price {
				*last = p
			}
		}
		points = out
		if !changed {
			return points
		}
	}
}

func filterWeak(points []Point, minStrength float64) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Strength < minStrength {
			continue
		}
		out = append(out, p)
	}
	return out
}

// label assigns HH/HL/LH/LL in place. The first high is HH and the first
// low is HL; later swings compare against the previous labeled swing of
// the same kind.
func label(points []Point) {
	var prevHigh, prevLow *float64
	for i := range points {
		p := &points[i]
		if p.IsHigh {
			if prevHigh == nil || p.Price > *prevHigh {
				p.Label = HH
			} else {
				p.Label = LH
			}
			v := p.Price
			prevHigh = &v
			continue
		}
		if prevLow == nil || p.Price > *prevLow {
			p.Label = HL
		} else {
			p.Label = LL
		}
		v := p.Price
		prevLow = &v
	}
}

func trendOf(points []Point) Trend {
	if len(points) == 0 {
		return Neutral
	}
	start := len(points) - trendWindow
	if start < 0 {
		start = 0
	}
	var bull, bear int
	for _, p := range points[start:] {
		switch p.Label {
		case HH, HL:
			bull++
		case LH, LL:
			bear++
		}
	}
	switch {
	case bull > bear+1:
		return Bullish
	case bear > bull+1:
		return Bearish
	default:
		return Neutral
	}
}

func meanRange(bars []ohlcv.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Range()
	}
	return sum / float64(len(bars))
}
