package pipeline

import (
	"fmt"
	"math"

	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/score"
	"github.com/smcscan/smcscan/internal/domain/smc"
	"github.com/smcscan/smcscan/internal/domain/swing"
)

const (
	// stopSwingBuffer pads the stop beyond the protecting swing, in
	// entry-timeframe ATR multiples.
	stopSwingBuffer = 0.5
	// stopATRFallback is the stop distance when no usable swing exists.
	stopATRFallback = 1.5
	// entryBandATR is the entry zone depth when no pattern zone exists.
	entryBandATR = 0.5
)

// targetRMultiples are the take-profit distances in risk multiples.
var targetRMultiples = []float64{1.5, 3.0}

// proposal is the tradeable attachment for an emitted signal.
type proposal struct {
	Entry      PriceZone
	EntryPrice float64
	Stop       float64
	Targets    []float64
}

// buildProposal derives entry, stop, and targets on the trace's entry
// timeframe. Entry prefers the freshest unmitigated pattern zone on the
// trade side; the stop hides behind the last protecting swing. Both fall
// back to ATR distances, so the proposal always has a nonzero risk span.
func (r *Runner) buildProposal(tr score.Trace, bundle *ohlcv.Bundle, set *indicators.Set, patterns map[ohlcv.Timeframe]smc.Inventory, swings map[ohlcv.Timeframe]swing.Structure) (proposal, error) {
	tf := tr.EntryTF
	bars, ok := bundle.Get(tf)
	if !ok || len(bars) == 0 {
		return proposal{}, fmt.Errorf("entry timeframe %s missing from bundle", tf)
	}
	price := bars[len(bars)-1].Close

	var atr float64
	if snap, ok := set.Get(tf); ok && snap.ATR.Valid {
		atr = snap.ATR.Value
	}
	if atr <= 0 {
		// A flat series still needs a positive stop distance.
		atr = price * 0.01
	}

	long := tr.Direction == score.DirLong
	stop := stopFrom(swings[tf], long, price, atr)
	riskSpan := math.Abs(price - stop)

	targets := make([]float64, 0, len(targetRMultiples))
	for _, m := range targetRMultiples {
		if long {
			targets = append(targets, price+m*riskSpan)
		} else {
			targets = append(targets, price-m*riskSpan)
		}
	}

	return proposal{
		Entry:      entryZone(patterns[tf], long, price, atr),
		EntryPrice: price,
		Stop:       stop,
		Targets:    targets,
	}, nil
}

// entryZone prefers the freshest unmitigated order block, then gap, on
// the trade side of price. Without one the zone is a half-ATR band under
// (over) the close.
func entryZone(inv smc.Inventory, long bool, price, atr float64) PriceZone {
	side := smc.Bearish
	if long {
		side = smc.Bullish
	}
	var best *smc.Pattern
	consider := func(p smc.Pattern) {
		if p.Side != side || p.Mitigated {
			return
		}
		if long && p.Zone.Lower >= price {
			return
		}
		if !long && p.Zone.Upper <= price {
			return
		}
		if best == nil || p.AnchorIndex > best.AnchorIndex {
			cp := p
			best = &cp
		}
	}
	for _, p := range inv.OrderBlocks {
		consider(p)
	}
	if best == nil {
		for _, p := range inv.FVGs {
			consider(p)
		}
	}
	if best != nil {
		return PriceZone{Low: best.Zone.Lower, High: best.Zone.Upper}
	}
	if long {
		return PriceZone{Low: price - entryBandATR*atr, High: price}
	}
	return PriceZone{Low: price, High: price + entryBandATR*atr}
}

// stopFrom anchors the stop half an ATR beyond the last swing on the
// protecting side of price. No structure means a straight ATR multiple.
func stopFrom(st swing.Structure, long bool, price, atr float64) float64 {
	if long {
		if low, ok := lastSwingBeyond(st, price, false); ok {
			return low - stopSwingBuffer*atr
		}
		return price - stopATRFallback*atr
	}
	if high, ok := lastSwingBeyond(st, price, true); ok {
		return high + stopSwingBuffer*atr
	}
	return price + stopATRFallback*atr
}

// lastSwingBeyond finds the most recent swing high above price, or swing
// low below it.
func lastSwingBeyond(st swing.Structure, price float64, wantHigh bool) (float64, bool) {
	for i := len(st.Points) - 1; i >= 0; i-- {
		p := st.Points[i]
		if p.IsHigh != wantHigh {
			continue
		}
		if wantHigh && p.Price > price {
			return p.Price, true
		}
		if !wantHigh && p.Price < price {
			return p.Price, true
		}
	}
	return 0, false
}

// proximityFor measures the distance from price to the nearest 4h (or
// daily) structural level, in that timeframe's ATR multiples. The gate
// softens counter-trend verdicts when a setup sits on such a level.
func proximityFor(bundle *ohlcv.Bundle, set *indicators.Set, swings map[ohlcv.Timeframe]swing.Structure) *score.Proximity {
	for _, tf := range []ohlcv.Timeframe{ohlcv.TF4h, ohlcv.TF1d} {
		st, ok := swings[tf]
		if !ok || len(st.Points) == 0 {
			continue
		}
		snap, ok := set.Get(tf)
		if !ok || !snap.ATR.Valid || snap.ATR.Value <= 0 {
			continue
		}
		bars, ok := bundle.Get(tf)
		if !ok || len(bars) == 0 {
			continue
		}
		price := bars[len(bars)-1].Close
		nearest := math.Inf(1)
		for _, p := range st.Points {
			if d := math.Abs(price - p.Price); d < nearest {
				nearest = d
			}
		}
		return &score.Proximity{ATR: nearest / snap.ATR.Value, Valid: true}
	}
	return nil
}
