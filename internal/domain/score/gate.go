package score

import (
	"fmt"
	"math"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/swing"
)

// Verdict is the gate's final ruling on a setup.
type Verdict string

const (
	VerdictAllowed Verdict = "allowed"
	VerdictCaution Verdict = "caution"
	VerdictBlocked Verdict = "blocked"
)

// Proximity is the distance from price to the nearest higher-timeframe
// structural level, in ATR multiples of that timeframe.
type Proximity struct {
	ATR   float64 `json:"atr"`
	Valid bool    `json:"valid"`
}

// GateResult records the higher-timeframe alignment ruling and the score
// adjustment it folds into the aggregation.
type GateResult struct {
	Verdict    Verdict     `json:"verdict"`
	HTFTrend   swing.Trend `json:"htf_trend"`
	Adjustment float64     `json:"adjustment"`
	Rationale  string      `json:"rationale"`
}

// proximityCaution is the structural distance, in ATRs, under which a
// counter-trend setup is downgraded to caution instead of blocked.
const proximityCaution = 0.5

// resolveTimeframeConflicts rules on the setup against the 4h and 1d swing
// trends. Both agreeing defines the higher-timeframe trend; anything else is
// neutral. Trading into an agreed trend is blocked unless price sits at a
// higher-timeframe structural level where a reversal is plausible.
func resolveTimeframeConflicts(in Inputs, e env) GateResult {
	ht := htfConsensus(e)
	if ht == swing.Neutral {
		return GateResult{Verdict: VerdictAllowed, HTFTrend: ht, Rationale: "higher timeframes neutral or mixed"}
	}
	if directionFor(ht) == in.Direction {
		adj := 10.0
		if snap, ok := snapAt(in, ohlcv.TF4h); ok && snap.ADX.Valid {
			adj += 10 * clamp01((snap.ADX.Value-20)/20)
		}
		return GateResult{
			Verdict:    VerdictAllowed,
			HTFTrend:   ht,
			Adjustment: adj,
			Rationale:  fmt.Sprintf("%s aligned with 4h and 1d structure", in.Direction),
		}
	}
	p := proximityOf(in, e)
	if p.Valid && p.ATR < proximityCaution {
		return GateResult{
			Verdict:    VerdictCaution,
			HTFTrend:   ht,
			Adjustment: -(10 + 80*p.ATR),
			Rationale:  fmt.Sprintf("counter-trend %.2f ATR from higher-timeframe structure", p.ATR),
		}
	}
	return GateResult{
		Verdict:    VerdictBlocked,
		HTFTrend:   ht,
		Adjustment: -40,
		Rationale:  fmt.Sprintf("%s against %s higher-timeframe trend", in.Direction, ht),
	}
}

// htfConsensus returns the trend both higher timeframes agree on, else
// neutral.
func htfConsensus(e env) swing.Trend {
	if e.has4 && e.has1 && e.t4 == e.t1 && e.t4 != swing.Neutral {
		return e.t4
	}
	return swing.Neutral
}

func directionFor(t swing.Trend) Direction {
	switch t {
	case swing.Bullish:
		return DirLong
	case swing.Bearish:
		return DirShort
	default:
		return ""
	}
}

// proximityOf prefers the caller's measurement, else derives one from the 4h
// (fallback 1d) structure and that timeframe's ATR.
func proximityOf(in Inputs, e env) Proximity {
	if in.Proximity != nil {
		return *in.Proximity
	}
	st, ok := in.Swings[ohlcv.TF4h]
	if !ok || len(st.Points) == 0 {
		st, ok = in.Swings[ohlcv.TF1d]
	}
	if !ok || len(st.Points) == 0 {
		return Proximity{}
	}
	snap, ok := snapAt(in, st.Timeframe)
	if !ok || !snap.ATR.Valid || snap.ATR.Value <= 0 {
		return Proximity{}
	}
	price := snap.Close
	if e.snapOK && e.snap.Close > 0 {
		price = e.snap.Close
	}
	level, ok := st.NearestLevel(price)
	if !ok {
		return Proximity{}
	}
	return Proximity{ATR: math.Abs(price-level.Price) / snap.ATR.Value, Valid: true}
}
