package score

import (
	"fmt"
	"strings"

	"github.com/smcscan/smcscan/internal/domain/cycle"
	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/domain/smc"
	"github.com/smcscan/smcscan/internal/domain/swing"
)

// Canonical factor names. Weight tables and synergy rules key on these.
const (
	FactorHTFTrend         = "htf_trend_alignment"
	FactorMTFConfluence    = "mtf_confluence"
	FactorStructuralBreak  = "structural_break"
	FactorOrderBlock       = "order_block_quality"
	FactorFVG              = "fvg_quality"
	FactorLiquiditySweep   = "liquidity_sweep"
	FactorSwingClarity     = "swing_structure_clarity"
	FactorMomentum         = "momentum"
	FactorVolatilityRegime = "volatility_regime"
	FactorVolumeProfile    = "volume_profile"
	FactorCycleAlignment   = "cycle_alignment"
	FactorMacroBias        = "macro_bias"
)

// factorOrder fixes evaluation order so traces are byte-stable.
var factorOrder = []string{
	FactorHTFTrend,
	FactorMTFConfluence,
	FactorStructuralBreak,
	FactorOrderBlock,
	FactorFVG,
	FactorLiquiditySweep,
	FactorSwingClarity,
	FactorMomentum,
	FactorVolatilityRegime,
	FactorVolumeProfile,
	FactorCycleAlignment,
	FactorMacroBias,
}

// FactorNames returns the canonical factor set in evaluation order.
func FactorNames() []string {
	out := make([]string, len(factorOrder))
	copy(out, factorOrder)
	return out
}

// Inputs carries everything one symbol's scoring pass reads. Missing pieces
// degrade the affected factors to a neutral 50 rather than failing the pass.
type Inputs struct {
	Symbol    string
	Direction Direction
	EntryTF   ohlcv.Timeframe
	Set       *indicators.Set
	Patterns  map[ohlcv.Timeframe]smc.Inventory
	Swings    map[ohlcv.Timeframe]swing.Structure
	Market    regime.Regime
	PerSymbol regime.Regime
	Cycle     *cycle.Context
	Macro     *cycle.FourYear
	Proximity *Proximity
}

// env is derived once per pass and shared by the factors and the gate.
type env struct {
	entry  ohlcv.Timeframe
	snap   indicators.Snapshot
	snapOK bool
	t4, t1 swing.Trend
	has4   bool
	has1   bool
}

func newEnv(in Inputs) env {
	e := env{entry: entryTF(in)}
	e.snap, e.snapOK = snapAt(in, e.entry)
	if st, ok := in.Swings[ohlcv.TF4h]; ok {
		e.t4, e.has4 = st.Trend, true
	}
	if st, ok := in.Swings[ohlcv.TF1d]; ok {
		e.t1, e.has1 = st.Trend, true
	}
	return e
}

// entryTF picks the scoring timeframe: the caller's choice when the
// indicator set covers it, otherwise the shortest timeframe available.
func entryTF(in Inputs) ohlcv.Timeframe {
	if in.Set != nil {
		if _, ok := in.Set.PerTF[in.EntryTF]; ok {
			return in.EntryTF
		}
		var best ohlcv.Timeframe
		for tf := range in.Set.PerTF {
			if best == "" || tf.Duration() < best.Duration() {
				best = tf
			}
		}
		if best != "" {
			return best
		}
	}
	if in.EntryTF != "" {
		return in.EntryTF
	}
	return ohlcv.TF1h
}

func snapAt(in Inputs, tf ohlcv.Timeframe) (indicators.Snapshot, bool) {
	if in.Set == nil {
		return indicators.Snapshot{}, false
	}
	return in.Set.Get(tf)
}

func trendFor(d Direction) swing.Trend {
	if d == DirShort {
		return swing.Bearish
	}
	return swing.Bullish
}

func sideFor(d Direction) smc.Side {
	if d == DirShort {
		return smc.Bearish
	}
	return smc.Bullish
}

func gradeBase(g smc.Grade, a, b, c float64) float64 {
	switch g {
	case smc.GradeA:
		return a
	case smc.GradeB:
		return b
	default:
		return c
	}
}

func gradeRank(g smc.Grade) int {
	switch g {
	case smc.GradeA:
		return 3
	case smc.GradeB:
		return 2
	default:
		return 1
	}
}

var factorFns = map[string]func(Inputs, env) Factor{
	FactorHTFTrend:         htfTrendAlignment,
	FactorMTFConfluence:    mtfConfluence,
	FactorStructuralBreak:  structuralBreak,
	FactorOrderBlock:       orderBlockQuality,
	FactorFVG:              fvgQuality,
	FactorLiquiditySweep:   liquiditySweep,
	FactorSwingClarity:     swingClarity,
	FactorMomentum:         momentumFactor,
	FactorVolatilityRegime: volatilityRegimeFactor,
	FactorVolumeProfile:    volumeProfileFactor,
	FactorCycleAlignment:   cycleAlignmentFactor,
	FactorMacroBias:        macroBiasFactor,
}

func htfTrendAlignment(in Inputs, e env) Factor {
	f := Factor{Name: FactorHTFTrend}
	if !e.has4 && !e.has1 {
		f.Raw, f.Rationale, f.Degraded = 50, "no higher-timeframe structure", true
		return f
	}
	want, against := trendFor(in.Direction), trendFor(in.Direction.Opposite())
	agree, oppose := 0, 0
	for _, h := range []struct {
		t  swing.Trend
		ok bool
	}{{e.t4, e.has4}, {e.t1, e.has1}} {
		if !h.ok {
			continue
		}
		switch h.t {
		case want:
			agree++
		case against:
			oppose++
		}
	}
	switch {
	case agree == 2:
		f.Raw = 90
	case agree == 1 && oppose == 0:
		f.Raw = 70
	case agree == 1 && oppose == 1:
		f.Raw = 35
	case oppose == 2:
		f.Raw = 10
	case oppose == 1:
		f.Raw = 30
	default:
		f.Raw = 50
	}
	f.Rationale = fmt.Sprintf("4h %s, 1d %s for %s", trendLabel(e.t4, e.has4), trendLabel(e.t1, e.has1), in.Direction)
	return f
}

func trendLabel(t swing.Trend, ok bool) string {
	if !ok {
		return "missing"
	}
	return string(t)
}

func mtfConfluence(in Inputs, e env) Factor {
	f := Factor{Name: FactorMTFConfluence}
	if len(in.Swings) == 0 {
		f.Raw, f.Rationale, f.Degraded = 50, "no swing structures", true
		return f
	}
	want, against := trendFor(in.Direction), trendFor(in.Direction.Opposite())
	agree, oppose := 0, 0
	for _, st := range in.Swings {
		switch st.Trend {
		case want:
			agree++
		case against:
			oppose++
		}
	}
	n := len(in.Swings)
	f.Raw = clamp(50+50*float64(agree-oppose)/float64(n), 0, 100)
	f.Rationale = fmt.Sprintf("%d of %d timeframes trend %s, %d against", agree, n, in.Direction, oppose)
	return f
}

func structuralBreak(in Inputs, e env) Factor {
	f := Factor{Name: FactorStructuralBreak}
	inv, ok := in.Patterns[e.entry]
	if !ok {
		f.Raw, f.Rationale, f.Degraded = 50, "no pattern inventory", true
		return f
	}
	brk, ok := inv.LastBreak()
	if !ok {
		f.Raw, f.Rationale = 40, "no recent structural break"
		return f
	}
	side := sideFor(in.Direction)
	switch {
	case brk.Side == side && brk.Mitigated:
		f.Raw = 40
		f.Rationale = fmt.Sprintf("last %s invalidated by retrace", brk.Kind)
	case brk.Side == side:
		f.Raw = gradeBase(brk.Grade, 90, 75, 60)
		f.Rationale = fmt.Sprintf("%s %s grade %s", brk.Side, brk.Kind, brk.Grade)
	case brk.Kind == smc.KindCHoCH:
		f.Raw = 15
		f.Rationale = fmt.Sprintf("opposing character change (%s)", brk.Side)
	default:
		f.Raw = 25
		f.Rationale = fmt.Sprintf("opposing %s (%s)", brk.Kind, brk.Side)
	}
	return f
}

func orderBlockQuality(in Inputs, e env) Factor {
	return zoneQuality(in, e, FactorOrderBlock, smc.KindOrderBlock, "order block")
}

func fvgQuality(in Inputs, e env) Factor {
	return zoneQuality(in, e, FactorFVG, smc.KindFVG, "fair value gap")
}

// zoneQuality scores the best fresh same-side zone by grade, then adjusts
// for how far price sits from the nearest one.
func zoneQuality(in Inputs, e env, name string, kind smc.Kind, label string) Factor {
	f := Factor{Name: name}
	inv, ok := in.Patterns[e.entry]
	if !ok {
		f.Raw, f.Rationale, f.Degraded = 50, "no pattern inventory", true
		return f
	}
	side := sideFor(in.Direction)
	fresh := inv.Fresh(kind, side)
	if len(fresh) == 0 {
		f.Raw = 30
		f.Rationale = fmt.Sprintf("no fresh %s %s", side, label)
		return f
	}
	best := fresh[0]
	for _, p := range fresh[1:] {
		if gradeRank(p.Grade) > gradeRank(best.Grade) {
			best = p
		}
	}
	f.Raw = gradeBase(best.Grade, 85, 70, 55)
	f.Rationale = fmt.Sprintf("grade %s %s", best.Grade, label)
	if e.snapOK && e.snap.ATR.Valid && e.snap.ATR.Value > 0 && e.snap.Close > 0 {
		nearest, _ := inv.NearestZone(kind, side, e.snap.Close)
		dist := nearest.Zone.Distance(e.snap.Close) / e.snap.ATR.Value
		switch {
		case dist <= 0.5:
			f.Raw += 10
			f.Rationale += ", at zone"
		case dist > 3:
			f.Raw -= 15
			f.Rationale += fmt.Sprintf(", %.1f ATR away", dist)
		}
	}
	f.Raw = clamp(f.Raw, 0, 100)
	return f
}

func liquiditySweep(in Inputs, e env) Factor {
	f := Factor{Name: FactorLiquiditySweep}
	inv, ok := in.Patterns[e.entry]
	if !ok {
		f.Raw, f.Rationale, f.Degraded = 50, "no pattern inventory", true
		return f
	}
	fresh := inv.Fresh(smc.KindSweep, sideFor(in.Direction))
	if len(fresh) == 0 {
		f.Raw, f.Rationale = 40, "no supporting liquidity sweep"
		return f
	}
	last := fresh[0]
	for _, p := range fresh[1:] {
		if p.AnchorIndex > last.AnchorIndex {
			last = p
		}
	}
	f.Raw = gradeBase(last.Grade, 90, 75, 60)
	f.Rationale = fmt.Sprintf("grade %s sweep", last.Grade)
	if inv.Bars > 0 && last.AnchorIndex >= inv.Bars-10 {
		f.Raw = clamp(f.Raw+10, 0, 100)
		f.Rationale += " within last 10 bars"
	}
	return f
}

func swingClarity(in Inputs, e env) Factor {
	f := Factor{Name: FactorSwingClarity}
	st, ok := in.Swings[e.entry]
	if !ok {
		f.Raw, f.Rationale, f.Degraded = 50, "no swing structure", true
		return f
	}
	labels := make([]swing.Label, 0, len(st.Points))
	for _, l := range st.Labels() {
		if l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) > 6 {
		labels = labels[len(labels)-6:]
	}
	if len(labels) < 4 {
		f.Raw = 40
		f.Rationale = fmt.Sprintf("immature structure (%d labeled swings)", len(labels))
		return f
	}
	bull, bear := 0, 0
	for _, l := range labels {
		switch l {
		case swing.HH, swing.HL:
			bull++
		case swing.LH, swing.LL:
			bear++
		}
	}
	dom := bull
	if bear > dom {
		dom = bear
	}
	f.Raw = 100 * float64(dom) / float64(len(labels))
	f.Rationale = fmt.Sprintf("%d of %d swings agree", dom, len(labels))
	return f
}

func momentumFactor(in Inputs, e env) Factor {
	f := Factor{Name: FactorMomentum}
	if !e.snapOK || (!e.snap.RSI.Valid && !e.snap.MACD.Valid) {
		f.Raw, f.Rationale, f.Degraded = 50, "momentum indicators unavailable", true
		return f
	}
	raw := 50.0
	var parts []string
	if e.snap.RSI.Valid {
		align := e.snap.RSI.Value - 50
		if in.Direction == DirShort {
			align = -align
		}
		raw += 1.2 * align
		parts = append(parts, fmt.Sprintf("rsi %.1f", e.snap.RSI.Value))
	}
	if e.snap.MACD.Valid {
		histFor := e.snap.MACD.Histogram > 0
		lineFor := e.snap.MACD.Line > 0
		if in.Direction == DirShort {
			histFor = e.snap.MACD.Histogram < 0
			lineFor = e.snap.MACD.Line < 0
		}
		if histFor {
			raw += 15
			parts = append(parts, "macd histogram aligned")
		} else {
			raw -= 15
			parts = append(parts, "macd histogram opposed")
		}
		if lineFor {
			raw += 5
		}
	}
	if e.snap.RSI.Valid && raw > 60 {
		over := (in.Direction == DirLong && e.snap.RSI.Value > 80) ||
			(in.Direction == DirShort && e.snap.RSI.Value < 20)
		if over {
			raw = 60
			parts = append(parts, "overextended")
		}
	}
	f.Raw = clamp(raw, 0, 100)
	f.Rationale = strings.Join(parts, ", ")
	return f
}

func volatilityRegimeFactor(in Inputs, e env) Factor {
	f := Factor{Name: FactorVolatilityRegime}
	if !e.snapOK || !e.snap.Squeeze.Valid {
		f.Raw, f.Rationale, f.Degraded = 50, "squeeze state unavailable", true
		return f
	}
	switch {
	case e.snap.ATRPct > 4:
		f.Raw = 25
		f.Rationale = fmt.Sprintf("chaotic range (atr %.1f%%)", e.snap.ATRPct)
	case e.snap.Squeeze.Firing:
		f.Raw = 85
		f.Rationale = "squeeze fired, expansion underway"
	case e.snap.Squeeze.On:
		f.Raw = 70
		f.Rationale = "squeeze on, compression building"
	default:
		f.Raw = 50
		f.Rationale = "no compression signal"
	}
	return f
}

func volumeProfileFactor(in Inputs, e env) Factor {
	f := Factor{Name: FactorVolumeProfile}
	if !e.snapOK || e.snap.Vol20 <= 0 {
		f.Raw, f.Rationale, f.Degraded = 50, "volume history unavailable", true
		return f
	}
	r := e.snap.Vol5 / e.snap.Vol20
	switch {
	case r >= 1.5:
		f.Raw = 80
	case r >= 1.0:
		f.Raw = 60
	case r >= 0.5:
		f.Raw = 45
	default:
		f.Raw = 30
	}
	f.Rationale = fmt.Sprintf("5-bar volume %.2fx the 20-bar mean", r)
	return f
}

func cycleAlignmentFactor(in Inputs, e env) Factor {
	f := Factor{Name: FactorCycleAlignment}
	if in.Cycle == nil {
		f.Raw, f.Rationale, f.Degraded = 50, "no cycle context", true
		return f
	}
	want := cycle.BiasLong
	if in.Direction == DirShort {
		want = cycle.BiasShort
	}
	ctx := in.Cycle
	switch {
	case ctx.Bias == want:
		f.Raw = 80
		f.Rationale = fmt.Sprintf("cycle bias %s", ctx.Bias)
		if ctx.Alignment == cycle.Aligned {
			f.Raw += 10
			f.Rationale += ", horizons aligned"
		}
		inZone := (in.Direction == DirLong && ctx.AccumulationZone()) ||
			(in.Direction == DirShort && ctx.DistributionZone())
		if inZone {
			f.Raw += 10
			f.Rationale += ", in zone"
		}
		f.Raw = clamp(f.Raw, 0, 100)
	case ctx.Bias == cycle.BiasNeutral:
		f.Raw, f.Rationale = 50, "cycle bias neutral"
	case ctx.Alignment == cycle.Aligned:
		f.Raw = 15
		f.Rationale = fmt.Sprintf("aligned cycle bias %s against %s", ctx.Bias, in.Direction)
	default:
		f.Raw = 30
		f.Rationale = fmt.Sprintf("cycle bias %s against %s", ctx.Bias, in.Direction)
	}
	return f
}

func macroBiasFactor(in Inputs, e env) Factor {
	f := Factor{Name: FactorMacroBias}
	if in.Macro == nil {
		f.Raw, f.Rationale, f.Degraded = 50, "no macro cycle data", true
		return f
	}
	m := in.Macro
	want := cycle.MacroBullish
	if in.Direction == DirShort {
		want = cycle.MacroBearish
	}
	switch m.Bias {
	case want:
		f.Raw = 75
		if (in.Direction == DirLong && m.OpportunityZone) || (in.Direction == DirShort && m.DangerZone) {
			f.Raw = 90
		}
		f.Rationale = fmt.Sprintf("macro %s in %s phase", m.Bias, m.Phase)
	case cycle.MacroNeutral:
		f.Raw, f.Rationale = 50, "macro neutral"
	default:
		f.Raw = 25
		if (in.Direction == DirLong && m.DangerZone) || (in.Direction == DirShort && m.OpportunityZone) {
			f.Raw = 10
		}
		f.Rationale = fmt.Sprintf("macro %s in %s phase", m.Bias, m.Phase)
	}
	return f
}

type penalty struct {
	amount float64
	note   string
}

// conflictPenalties collects the opposing-signal deductions. The total is
// deliberately uncapped; a setup fighting everything should not survive.
func conflictPenalties(in Inputs, e env) []penalty {
	var out []penalty
	if ht := htfConsensus(e); ht != swing.Neutral && directionFor(ht) != in.Direction {
		amt := 20.0
		if snap, ok := snapAt(in, ohlcv.TF4h); ok && snap.ADX.Valid {
			if snap.ADX.Value >= 25 {
				amt += 10
			}
			if snap.ADX.Value >= 35 {
				amt += 10
			}
		}
		out = append(out, penalty{amt, fmt.Sprintf("counter to %s higher-timeframe trend", ht)})
	}
	vol := in.PerSymbol.Volatility
	if vol == "" {
		vol = in.Market.Volatility
	}
	if vol == regime.VolChaotic {
		out = append(out, penalty{10, "chaotic volatility"})
	}
	if in.Cycle != nil && in.Cycle.Alignment == cycle.Aligned {
		opposed := (in.Direction == DirLong && in.Cycle.Bias == cycle.BiasShort) ||
			(in.Direction == DirShort && in.Cycle.Bias == cycle.BiasLong)
		if opposed {
			out = append(out, penalty{15, fmt.Sprintf("aligned cycle bias %s opposes %s", in.Cycle.Bias, in.Direction)})
		}
	}
	if s, g := trendSense(in.PerSymbol.Trend), trendSense(in.Market.Trend); s != 0 && g != 0 && s != g {
		out = append(out, penalty{5, "symbol regime disagrees with market regime"})
	}
	return out
}

func trendSense(t regime.Trend) int {
	switch t {
	case regime.TrendUp, regime.TrendStrongUp:
		return 1
	case regime.TrendDown, regime.TrendStrongDown:
		return -1
	default:
		return 0
	}
}

// macroTerm is the small additive four-year component, graded by whether the
// cycle position also sits in a supporting zone.
func macroTerm(in Inputs) (float64, string) {
	if in.Macro == nil {
		return 0, ""
	}
	m := in.Macro
	if m.Bias == cycle.MacroNeutral {
		return 0, ""
	}
	matched := (in.Direction == DirLong && m.Bias == cycle.MacroBullish) ||
		(in.Direction == DirShort && m.Bias == cycle.MacroBearish)
	if matched {
		if (in.Direction == DirLong && m.OpportunityZone) || (in.Direction == DirShort && m.DangerZone) {
			return 5, "macro tailwind"
		}
		return 3, "macro tailwind"
	}
	if (in.Direction == DirLong && m.DangerZone) || (in.Direction == DirShort && m.OpportunityZone) {
		return -5, "macro headwind"
	}
	return -3, "macro headwind"
}
