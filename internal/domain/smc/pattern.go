// Package smc detects smart money structures over a single-timeframe OHLCV
// series: order blocks, fair value gaps, liquidity sweeps and structural
// breaks (BOS/CHoCH). Each detector returns a graded pattern list the
// confluence scorer ranks against the proposed trade direction.
package smc

import (
	"math"
	"sort"
	"time"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Kind identifies the pattern family.
type Kind string

const (
	KindOrderBlock Kind = "order_block"
	KindFVG        Kind = "fvg"
	KindSweep      Kind = "liquidity_sweep"
	KindBOS        Kind = "bos"
	KindCHoCH      Kind = "choch"
)

// Side is the directional read of a pattern.
type Side string

const (
	Bullish Side = "bullish"
	Bearish Side = "bearish"
)

// Grade buckets pattern quality. A is strongest.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

func gradeBy(strength, a, b float64) Grade {
	switch {
	case strength >= a:
		return GradeA
	case strength >= b:
		return GradeB
	default:
		return GradeC
	}
}

// Zone is a horizontal price band with Lower <= Upper.
type Zone struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func zoneOf(a, b float64) Zone {
	if a > b {
		a, b = b, a
	}
	return Zone{Lower: a, Upper: b}
}

// Contains reports whether price sits inside the band.
func (z Zone) Contains(price float64) bool {
	return price >= z.Lower && price <= z.Upper
}

// Mid returns the band midpoint.
func (z Zone) Mid() float64 { return (z.Lower + z.Upper) / 2 }

// Width returns the band height.
func (z Zone) Width() float64 { return z.Upper - z.Lower }

// Distance returns how far price is from the band, zero when inside.
func (z Zone) Distance(price float64) float64 {
	switch {
	case price < z.Lower:
		return z.Lower - price
	case price > z.Upper:
		return price - z.Upper
	default:
		return 0
	}
}

// Pattern is one detected structure. Strength is measured in ATRs of the
// underlying series so grades stay comparable across symbols and
// timeframes. Mitigated means price has already traded back through the
// zone (or, for breaks and sweeps, invalidated the structural read).
type Pattern struct {
	Kind        Kind      `json:"kind"`
	Side        Side      `json:"side"`
	Grade       Grade     `json:"grade"`
	Zone        Zone      `json:"zone"`
	AnchorIndex int       `json:"anchor_index"`
	AnchorTime  time.Time `json:"anchor_time"`
	Strength    float64   `json:"strength"`
	Mitigated   bool      `json:"mitigated,omitempty"`
}

// Inventory is the full pattern set for one symbol and timeframe.
type Inventory struct {
	Symbol      string          `json:"symbol"`
	Timeframe   ohlcv.Timeframe `json:"timeframe"`
	Bars        int             `json:"bars"`
	OrderBlocks []Pattern       `json:"order_blocks,omitempty"`
	FVGs        []Pattern       `json:"fvgs,omitempty"`
	Sweeps      []Pattern       `json:"sweeps,omitempty"`
	Breaks      []Pattern       `json:"breaks,omitempty"`
}

// All returns every pattern ordered by anchor index.
func (inv Inventory) All() []Pattern {
	out := make([]Pattern, 0, len(inv.OrderBlocks)+len(inv.FVGs)+len(inv.Sweeps)+len(inv.Breaks))
	out = append(out, inv.OrderBlocks...)
	out = append(out, inv.FVGs...)
	out = append(out, inv.Sweeps...)
	out = append(out, inv.Breaks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AnchorIndex < out[j].AnchorIndex })
	return out
}

// Fresh filters one family down to unmitigated patterns on the given side.
// KindBOS and KindCHoCH both select from Breaks and filter by exact kind.
func (inv Inventory) Fresh(kind Kind, side Side) []Pattern {
	var src []Pattern
	switch kind {
	case KindOrderBlock:
		src = inv.OrderBlocks
	case KindFVG:
		src = inv.FVGs
	case KindSweep:
		src = inv.Sweeps
	case KindBOS, KindCHoCH:
		src = inv.Breaks
	}
	var out []Pattern
	for _, p := range src {
		if p.Mitigated || p.Side != side {
			continue
		}
		if (kind == KindBOS || kind == KindCHoCH) && p.Kind != kind {
			continue
		}
		out = append(out, p)
	}
	return out
}

// LastBreak returns the most recent structural break of either kind.
func (inv Inventory) LastBreak() (Pattern, bool) {
	if len(inv.Breaks) == 0 {
		return Pattern{}, false
	}
	return inv.Breaks[len(inv.Breaks)-1], true
}

// NearestZone finds the unmitigated zone of the given family and side
// closest to price. A zone containing the price wins outright.
func (inv Inventory) NearestZone(kind Kind, side Side, price float64) (Pattern, bool) {
	var best Pattern
	bestDist := math.MaxFloat64
	found := false
	for _, p := range inv.Fresh(kind, side) {
		if d := p.Zone.Distance(price); d < bestDist {
			best, bestDist, found = p, d, true
		}
	}
	return best, found
}
