package smc

import (
	"sort"

	"github.com/smcscan/smcscan/internal/domain/indicators"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Config tunes the rule detectors. Zero fields fall back to defaults.
type Config struct {
	PivotLookback   int     `yaml:"pivot_lookback"`
	MinGapPct       float64 `yaml:"min_gap_pct"`
	DisplacementATR float64 `yaml:"displacement_atr"`
}

// DefaultConfig returns the tuning used by the scan pipeline.
func DefaultConfig() Config {
	return Config{
		PivotLookback:   3,
		MinGapPct:       0.1,
		DisplacementATR: 1.2,
	}
}

// Detector runs the rule-based structure detectors over one OHLCV series.
type Detector struct {
	cfg Config
}

// NewDetector builds a detector, defaulting any unset config field.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.PivotLookback <= 0 {
		cfg.PivotLookback = def.PivotLookback
	}
	if cfg.MinGapPct <= 0 {
		cfg.MinGapPct = def.MinGapPct
	}
	if cfg.DisplacementATR <= 0 {
		cfg.DisplacementATR = def.DisplacementATR
	}
	return &Detector{cfg: cfg}
}

// Detect runs every detector and assembles the inventory for one series.
func (d *Detector) Detect(symbol string, tf ohlcv.Timeframe, bars []ohlcv.Bar) Inventory {
	return Inventory{
		Symbol:      symbol,
		Timeframe:   tf,
		Bars:        len(bars),
		OrderBlocks: d.OrderBlocks(bars),
		FVGs:        d.FVGs(bars),
		Sweeps:      d.LiquiditySweeps(bars),
		Breaks:      d.StructureBreaks(bars),
	}
}

// OrderBlocks finds opposite-colored candles immediately preceding a
// displacement candle whose body clears the block and exceeds the
// configured ATR multiple. The block's full range is the zone.
func (d *Detector) OrderBlocks(bars []ohlcv.Bar) []Pattern {
	if len(bars) < 2 {
		return nil
	}
	atr := yardstick(bars)
	var out []Pattern
	for i := 0; i+1 < len(bars); i++ {
		blk, next := bars[i], bars[i+1]
		body := next.Close - next.Open
		if blk.Close < blk.Open && body >= d.cfg.DisplacementATR*atr && next.Close > blk.High {
			p := Pattern{
				Kind:        KindOrderBlock,
				Side:        Bullish,
				Zone:        zoneOf(blk.Low, blk.High),
				AnchorIndex: i,
				AnchorTime:  blk.Timestamp,
				Strength:    body / atr,
			}
			p.Grade = gradeBy(p.Strength, 2.5, 1.8)
			p.Mitigated = tapped(bars[i+2:], p.Side, p.Zone)
			out = append(out, p)
		}
		if blk.Close > blk.Open && -body >= d.cfg.DisplacementATR*atr && next.Close < blk.Low {
			p := Pattern{
				Kind:        KindOrderBlock,
				Side:        Bearish,
				Zone:        zoneOf(blk.Low, blk.High),
				AnchorIndex: i,
				AnchorTime:  blk.Timestamp,
				Strength:    -body / atr,
			}
			p.Grade = gradeBy(p.Strength, 2.5, 1.8)
			p.Mitigated = tapped(bars[i+2:], p.Side, p.Zone)
			out = append(out, p)
		}
	}
	return out
}

// FVGs finds three-bar imbalances: a gap between bar 1 and bar 3 around a
// displacement candle. The gap wick boundaries form the zone; gaps below
// MinGapPct of price are noise and skipped.
func (d *Detector) FVGs(bars []ohlcv.Bar) []Pattern {
	if len(bars) < 3 {
		return nil
	}
	atr := yardstick(bars)
	var out []Pattern
	for i := 0; i+2 < len(bars); i++ {
		c1, c2, c3 := bars[i], bars[i+1], bars[i+2]
		if c1.High > 0 && c1.High < c3.Low {
			gap := c3.Low - c1.High
			if gap/c1.High*100 >= d.cfg.MinGapPct {
				p := Pattern{
					Kind:        KindFVG,
					Side:        Bullish,
					Zone:        Zone{Lower: c1.High, Upper: c3.Low},
					AnchorIndex: i + 1,
					AnchorTime:  c2.Timestamp,
					Strength:    gap / atr,
				}
				p.Grade = gradeBy(p.Strength, 0.6, 0.3)
				p.Mitigated = tapped(bars[i+3:], p.Side, p.Zone)
				out = append(out, p)
			}
		}
		if c3.High > 0 && c1.Low > c3.High {
			gap := c1.Low - c3.High
			if gap/c3.High*100 >= d.cfg.MinGapPct {
				p := Pattern{
					Kind:        KindFVG,
					Side:        Bearish,
					Zone:        Zone{Lower: c3.High, Upper: c1.Low},
					AnchorIndex: i + 1,
					AnchorTime:  c2.Timestamp,
					Strength:    gap / atr,
				}
				p.Grade = gradeBy(p.Strength, 0.6, 0.3)
				p.Mitigated = tapped(bars[i+3:], p.Side, p.Zone)
				out = append(out, p)
			}
		}
	}
	return out
}

// LiquiditySweeps finds stop hunts: a bar wicks through a confirmed pivot
// extreme but closes back inside the prior range. A close through the
// level is a breakout, not a sweep, and retires that pivot.
func (d *Detector) LiquiditySweeps(bars []ohlcv.Bar) []Pattern {
	piv := pivots(bars, d.cfg.PivotLookback)
	if len(piv) == 0 {
		return nil
	}
	atr := yardstick(bars)
	var out []Pattern
	for _, pv := range piv {
		for j := pv.index + d.cfg.PivotLookback + 1; j < len(bars); j++ {
			b := bars[j]
			if pv.high {
				if b.Close > pv.price {
					break
				}
				if b.High > pv.price {
					p := Pattern{
						Kind:        KindSweep,
						Side:        Bearish,
						Zone:        Zone{Lower: pv.price, Upper: b.High},
						AnchorIndex: j,
						AnchorTime:  b.Timestamp,
						Strength:    (b.High - pv.price) / atr,
					}
					p.Grade = gradeBy(p.Strength, 0.5, 0.25)
					p.Mitigated = brokeBeyond(bars[j+1:], p.Side, b.High)
					out = append(out, p)
					break
				}
				continue
			}
			if b.Close < pv.price {
				break
			}
			if b.Low < pv.price {
				p := Pattern{
					Kind:        KindSweep,
					Side:        Bullish,
					Zone:        Zone{Lower: b.Low, Upper: pv.price},
					AnchorIndex: j,
					AnchorTime:  b.Timestamp,
					Strength:    (pv.price - b.Low) / atr,
				}
				p.Grade = gradeBy(p.Strength, 0.5, 0.25)
				p.Mitigated = brokeBeyond(bars[j+1:], p.Side, b.Low)
				out = append(out, p)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AnchorIndex < out[j].AnchorIndex })
	return out
}

// StructureBreaks walks the series against confirmed pivots and emits a
// BOS when a close extends the prevailing structure and a CHoCH when it
// flips it. A broken level is retired until the next pivot forms.
func (d *Detector) StructureBreaks(bars []ohlcv.Bar) []Pattern {
	piv := pivots(bars, d.cfg.PivotLookback)
	if len(piv) == 0 {
		return nil
	}
	atr := yardstick(bars)

	confirmAt := make(map[int][]pivot, len(piv))
	for _, pv := range piv {
		at := pv.index + d.cfg.PivotLookback
		confirmAt[at] = append(confirmAt[at], pv)
	}

	var out []Pattern
	var lastHigh, lastLow *pivot
	dir := 0
	for i := range bars {
		for _, pv := range confirmAt[i] {
			pv := pv
			if pv.high {
				lastHigh = &pv
			} else {
				lastLow = &pv
			}
		}
		px := bars[i].Close
		if lastHigh != nil && px > lastHigh.price {
			kind := KindBOS
			if dir < 0 {
				kind = KindCHoCH
			}
			p := Pattern{
				Kind:        kind,
				Side:        Bullish,
				Zone:        zoneOf(lastHigh.price, px),
				AnchorIndex: i,
				AnchorTime:  bars[i].Timestamp,
				Strength:    (px - lastHigh.price) / atr,
			}
			p.Grade = gradeBy(p.Strength, 1.0, 0.5)
			p.Mitigated = closedBack(bars[i+1:], p.Side, lastHigh.price)
			out = append(out, p)
			dir = 1
			lastHigh = nil
		}
		if lastLow != nil && px < lastLow.price {
			kind := KindBOS
			if dir > 0 {
				kind = KindCHoCH
			}
			p := Pattern{
				Kind:        kind,
				Side:        Bearish,
				Zone:        zoneOf(px, lastLow.price),
				AnchorIndex: i,
				AnchorTime:  bars[i].Timestamp,
				Strength:    (lastLow.price - px) / atr,
			}
			p.Grade = gradeBy(p.Strength, 1.0, 0.5)
			p.Mitigated = closedBack(bars[i+1:], p.Side, lastLow.price)
			out = append(out, p)
			dir = -1
			lastLow = nil
		}
	}
	return out
}

type pivot struct {
	index int
	price float64
	high  bool
}

// pivots returns local extremes strictly above (below) every neighbor in
// the symmetric lookback window, ordered by index. A pivot only becomes
// usable once its right window has closed.
func pivots(bars []ohlcv.Bar, lookback int) []pivot {
	var out []pivot
	for i := lookback; i+lookback < len(bars); i++ {
		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isHigh = false
			}
			if bars[j].Low <= bars[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			out = append(out, pivot{index: i, price: bars[i].High, high: true})
		}
		if isLow {
			out = append(out, pivot{index: i, price: bars[i].Low, high: false})
		}
	}
	return out
}

// yardstick is the ATR used to normalize pattern strength. Short series
// fall back to the mean bar range so detectors stay usable at low counts.
func yardstick(bars []ohlcv.Bar) float64 {
	if atr := indicators.ATR(bars, indicators.ATRPeriod); atr.Valid && atr.Value > 0 {
		return atr.Value
	}
	var sum float64
	for _, b := range bars {
		sum += b.Range()
	}
	if len(bars) == 0 || sum == 0 {
		return 1
	}
	return sum / float64(len(bars))
}

// tapped reports whether any later bar traded back into the zone.
func tapped(later []ohlcv.Bar, side Side, z Zone) bool {
	for _, b := range later {
		if side == Bullish && b.Low <= z.Upper {
			return true
		}
		if side == Bearish && b.High >= z.Lower {
			return true
		}
	}
	return false
}

// brokeBeyond reports a later close past the sweep wick, which voids the
// stop-hunt read.
func brokeBeyond(later []ohlcv.Bar, side Side, wick float64) bool {
	for _, b := range later {
		if side == Bearish && b.Close > wick {
			return true
		}
		if side == Bullish && b.Close < wick {
			return true
		}
	}
	return false
}

// closedBack reports a later close retreating through the broken level.
func closedBack(later []ohlcv.Bar, side Side, level float64) bool {
	for _, b := range later {
		if side == Bullish && b.Close < level {
			return true
		}
		if side == Bearish && b.Close > level {
			return true
		}
	}
	return false
}
