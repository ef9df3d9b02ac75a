package cycle

import (
	"fmt"
	"sort"
	"time"
)

// Phase quarters the four-year cycle by elapsed position.
type Phase string

const (
	PhaseAccumulation Phase = "accumulation"
	PhaseMarkup       Phase = "markup"
	PhaseDistribution Phase = "distribution"
	PhaseMarkdown     Phase = "markdown"
)

// MacroBias is the market-wide lean the four-year position implies.
type MacroBias string

const (
	MacroBullish MacroBias = "BULLISH"
	MacroNeutral MacroBias = "NEUTRAL"
	MacroBearish MacroBias = "BEARISH"
)

// FourYear positions "now" inside the macro cycle anchored on historical
// lows. It is purely date-driven and recomputed on demand, no hysteresis.
type FourYear struct {
	LastLow         time.Time `json:"last_low"`
	NextLow         time.Time `json:"next_low"`
	DaysSinceLow    int       `json:"days_since_low"`
	CycleDays       int       `json:"cycle_days"`
	PositionPct     float64   `json:"position_pct"`
	Phase           Phase     `json:"phase"`
	Bias            MacroBias `json:"bias"`
	OpportunityZone bool      `json:"opportunity_zone"`
	DangerZone      bool      `json:"danger_zone"`
}

// FourYearAt places now between the latest historical low and the
// projected next one. Position is clamped to [0,100] so an overdue cycle
// reads as deep markdown rather than running off the scale.
func FourYearAt(now time.Time, lows []time.Time, nextLow time.Time) (FourYear, error) {
	if len(lows) == 0 {
		return FourYear{}, fmt.Errorf("four-year cycle: no historical lows configured")
	}
	sorted := make([]time.Time, len(lows))
	copy(sorted, lows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var last time.Time
	for _, l := range sorted {
		if !l.After(now) {
			last = l
		}
	}
	if last.IsZero() {
		return FourYear{}, fmt.Errorf("four-year cycle: no historical low on or before %s", now.Format("2006-01-02"))
	}
	if !nextLow.After(last) {
		return FourYear{}, fmt.Errorf("four-year cycle: projected low %s not after last low %s",
			nextLow.Format("2006-01-02"), last.Format("2006-01-02"))
	}

	fy := FourYear{
		LastLow:      last,
		NextLow:      nextLow,
		DaysSinceLow: int(now.Sub(last).Hours() / 24),
		CycleDays:    int(nextLow.Sub(last).Hours() / 24),
	}
	fy.PositionPct = 100 * float64(fy.DaysSinceLow) / float64(fy.CycleDays)
	if fy.PositionPct < 0 {
		fy.PositionPct = 0
	}
	if fy.PositionPct > 100 {
		fy.PositionPct = 100
	}

	switch {
	case fy.PositionPct < 25:
		fy.Phase = PhaseAccumulation
	case fy.PositionPct < 50:
		fy.Phase = PhaseMarkup
	case fy.PositionPct < 75:
		fy.Phase = PhaseDistribution
	default:
		fy.Phase = PhaseMarkdown
	}

	switch fy.Phase {
	case PhaseAccumulation, PhaseMarkup:
		fy.Bias = MacroBullish
	case PhaseDistribution:
		fy.Bias = MacroNeutral
	default:
		fy.Bias = MacroBearish
	}

	fy.OpportunityZone = fy.PositionPct < 37.5
	fy.DangerZone = fy.PositionPct >= 62.5
	return fy, nil
}
