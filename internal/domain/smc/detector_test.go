package smc

import (
	"math"
	"testing"
	"time"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

func bar(i int, o, h, l, c float64) ohlcv.Bar {
	return ohlcv.Bar{
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1000,
	}
}

func almostEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// sweepSeries has a single pivot high at 12.0 (index 3) and every bar
// range equal to 1.0 so the strength yardstick is exactly 1.0.
func sweepSeries(lastBar ohlcv.Bar) []ohlcv.Bar {
	return []ohlcv.Bar{
		bar(0, 10.0, 10.5, 9.5, 10.0),
		bar(1, 10.0, 10.7, 9.7, 10.2),
		bar(2, 10.2, 10.9, 9.9, 10.4),
		bar(3, 11.2, 12.0, 11.0, 11.5),
		bar(4, 11.0, 11.5, 10.5, 11.0),
		bar(5, 10.8, 11.3, 10.3, 10.8),
		bar(6, 10.6, 11.1, 10.1, 10.6),
		lastBar,
	}
}

func TestLiquiditySweepDetected(t *testing.T) {
	bars := sweepSeries(bar(7, 11.9, 12.6, 11.6, 11.9))
	got := NewDetector(Config{}).LiquiditySweeps(bars)
	if len(got) != 1 {
		t.Fatalf("sweeps = %d, want 1", len(got))
	}
	sw := got[0]
	if sw.Side != Bearish {
		t.Errorf("side = %s, want bearish", sw.Side)
	}
	if sw.AnchorIndex != 7 {
		t.Errorf("anchor = %d, want 7", sw.AnchorIndex)
	}
	if !almostEq(sw.Zone.Lower, 12.0) || !almostEq(sw.Zone.Upper, 12.6) {
		t.Errorf("zone = %+v, want [12.0, 12.6]", sw.Zone)
	}
	if !almostEq(sw.Strength, 0.6) {
		t.Errorf("strength = %.4f, want 0.6", sw.Strength)
	}
	if sw.Grade != GradeA {
		t.Errorf("grade = %s, want A", sw.Grade)
	}
	if sw.Mitigated {
		t.Error("sweep should not be mitigated")
	}
}

func TestLiquiditySweepCleanBreakIgnored(t *testing.T) {
	// Close through the pivot level is a breakout, not a stop hunt.
	bars := sweepSeries(bar(7, 12.1, 12.6, 11.6, 12.3))
	if got := NewDetector(Config{}).LiquiditySweeps(bars); len(got) != 0 {
		t.Fatalf("sweeps = %d, want 0", len(got))
	}
}

func TestLiquiditySweepGradeScalesWithPenetration(t *testing.T) {
	// Penetration of 0.3 ATR lands in grade B territory.
	bars := sweepSeries(bar(7, 11.9, 12.3, 11.3, 11.9))
	got := NewDetector(Config{}).LiquiditySweeps(bars)
	if len(got) != 1 {
		t.Fatalf("sweeps = %d, want 1", len(got))
	}
	if got[0].Grade != GradeB {
		t.Errorf("grade = %s, want B", got[0].Grade)
	}
}

func fvgBullSeries() []ohlcv.Bar {
	return []ohlcv.Bar{
		bar(0, 10.0, 10.5, 9.5, 10.2),
		bar(1, 10.3, 12.4, 10.2, 12.3),
		bar(2, 12.3, 13.0, 11.3, 12.8),
		bar(3, 12.8, 13.3, 12.3, 13.0),
	}
}

func TestFVGBullish(t *testing.T) {
	got := NewDetector(Config{}).FVGs(fvgBullSeries())
	if len(got) != 1 {
		t.Fatalf("fvgs = %d, want 1", len(got))
	}
	g := got[0]
	if g.Side != Bullish {
		t.Errorf("side = %s, want bullish", g.Side)
	}
	if g.AnchorIndex != 1 {
		t.Errorf("anchor = %d, want 1", g.AnchorIndex)
	}
	if !almostEq(g.Zone.Lower, 10.5) || !almostEq(g.Zone.Upper, 11.3) {
		t.Errorf("zone = %+v, want [10.5, 11.3]", g.Zone)
	}
	if g.Mitigated {
		t.Error("gap untouched, should not be mitigated")
	}
}

func TestFVGMitigatedByLaterWick(t *testing.T) {
	bars := append(fvgBullSeries(), bar(4, 12.9, 13.0, 11.0, 12.0))
	got := NewDetector(Config{}).FVGs(bars)
	if len(got) != 1 {
		t.Fatalf("fvgs = %d, want 1", len(got))
	}
	if !got[0].Mitigated {
		t.Error("later wick into the gap should mitigate it")
	}
}

func TestFVGBearish(t *testing.T) {
	bars := []ohlcv.Bar{
		bar(0, 13.0, 13.5, 12.5, 12.8),
		bar(1, 12.7, 12.8, 10.6, 10.7),
		bar(2, 10.6, 11.7, 10.0, 10.3),
	}
	got := NewDetector(Config{}).FVGs(bars)
	if len(got) != 1 {
		t.Fatalf("fvgs = %d, want 1", len(got))
	}
	g := got[0]
	if g.Side != Bearish {
		t.Errorf("side = %s, want bearish", g.Side)
	}
	if !almostEq(g.Zone.Lower, 11.7) || !almostEq(g.Zone.Upper, 12.5) {
		t.Errorf("zone = %+v, want [11.7, 12.5]", g.Zone)
	}
}

func TestFVGMinGapFilter(t *testing.T) {
	// Gap is ~7.6% of price; a 10% floor must reject it.
	got := NewDetector(Config{MinGapPct: 10}).FVGs(fvgBullSeries())
	if len(got) != 0 {
		t.Fatalf("fvgs = %d, want 0", len(got))
	}
}

func obQuietBars() []ohlcv.Bar {
	return []ohlcv.Bar{
		bar(0, 10.0, 10.5, 9.5, 10.1),
		bar(1, 10.1, 10.6, 9.6, 10.2),
		bar(2, 10.2, 10.7, 9.7, 10.3),
		bar(3, 10.3, 10.8, 9.8, 10.4),
		bar(4, 10.4, 10.9, 9.9, 10.3),
	}
}

func TestOrderBlockBullish(t *testing.T) {
	bars := append(obQuietBars(),
		bar(5, 10.4, 10.6, 9.6, 9.8),
		bar(6, 9.8, 13.2, 9.7, 13.0),
	)
	got := NewDetector(Config{}).OrderBlocks(bars)
	if len(got) != 1 {
		t.Fatalf("order blocks = %d, want 1", len(got))
	}
	ob := got[0]
	if ob.Side != Bullish {
		t.Errorf("side = %s, want bullish", ob.Side)
	}
	if ob.AnchorIndex != 5 {
		t.Errorf("anchor = %d, want 5", ob.AnchorIndex)
	}
	if !almostEq(ob.Zone.Lower, 9.6) || !almostEq(ob.Zone.Upper, 10.6) {
		t.Errorf("zone = %+v, want [9.6, 10.6]", ob.Zone)
	}
	if ob.Grade != GradeB {
		t.Errorf("grade = %s, want B", ob.Grade)
	}
	if ob.Mitigated {
		t.Error("block untouched, should not be mitigated")
	}
}

func TestOrderBlockMitigatedOnRetap(t *testing.T) {
	bars := append(obQuietBars(),
		bar(5, 10.4, 10.6, 9.6, 9.8),
		bar(6, 9.8, 13.2, 9.7, 13.0),
		bar(7, 13.0, 13.4, 10.5, 12.9),
	)
	got := NewDetector(Config{}).OrderBlocks(bars)
	if len(got) != 1 {
		t.Fatalf("order blocks = %d, want 1", len(got))
	}
	if !got[0].Mitigated {
		t.Error("retap into the block should mitigate it")
	}
}

func TestOrderBlockWeakDisplacementIgnored(t *testing.T) {
	bars := append(obQuietBars(),
		bar(5, 10.4, 10.6, 9.6, 9.8),
		bar(6, 9.8, 11.0, 9.7, 10.9),
	)
	if got := NewDetector(Config{}).OrderBlocks(bars); len(got) != 0 {
		t.Fatalf("order blocks = %d, want 0", len(got))
	}
}

func TestOrderBlockBearish(t *testing.T) {
	bars := append(obQuietBars(),
		bar(5, 9.8, 10.6, 9.6, 10.4),
		bar(6, 10.4, 10.5, 7.0, 7.2),
	)
	got := NewDetector(Config{}).OrderBlocks(bars)
	if len(got) != 1 {
		t.Fatalf("order blocks = %d, want 1", len(got))
	}
	if got[0].Side != Bearish {
		t.Errorf("side = %s, want bearish", got[0].Side)
	}
	if !almostEq(got[0].Zone.Lower, 9.6) || !almostEq(got[0].Zone.Upper, 10.6) {
		t.Errorf("zone = %+v, want [9.6, 10.6]", got[0].Zone)
	}
}

// breakSeries rises out of a base, breaks the 12.0 pivot high at index 12,
// then loses the 11.2 pivot low at index 19.
func breakSeries() []ohlcv.Bar {
	return []ohlcv.Bar{
		bar(0, 10.0, 10.5, 9.5, 10.0),
		bar(1, 9.9, 10.3, 9.3, 9.6),
		bar(2, 9.5, 10.0, 9.0, 9.2),
		bar(3, 9.0, 9.5, 8.5, 9.3),
		bar(4, 9.3, 9.8, 8.8, 9.6),
		bar(5, 9.6, 10.1, 9.0, 10.0),
		bar(6, 10.0, 10.8, 9.2, 10.6),
		bar(7, 10.6, 11.5, 10.4, 11.2),
		bar(8, 11.2, 12.0, 10.9, 11.3),
		bar(9, 11.3, 11.4, 10.6, 10.9),
		bar(10, 10.9, 11.2, 10.3, 10.5),
		bar(11, 10.5, 11.0, 10.0, 10.2),
		bar(12, 11.9, 12.6, 11.8, 12.4),
		bar(13, 12.4, 12.5, 11.9, 12.2),
		bar(14, 12.2, 12.4, 11.7, 12.0),
		bar(15, 12.0, 12.1, 11.2, 11.9),
		bar(16, 11.9, 12.3, 11.5, 12.1),
		bar(17, 12.1, 12.2, 11.6, 11.9),
		bar(18, 11.9, 12.0, 11.4, 11.7),
		bar(19, 11.6, 11.8, 10.6, 10.8),
	}
}

func TestStructureBreaksBOSThenCHoCH(t *testing.T) {
	got := NewDetector(Config{}).StructureBreaks(breakSeries())
	if len(got) != 2 {
		t.Fatalf("breaks = %d, want 2", len(got))
	}

	bos := got[0]
	if bos.Kind != KindBOS || bos.Side != Bullish {
		t.Errorf("first break = %s/%s, want bos/bullish", bos.Kind, bos.Side)
	}
	if bos.AnchorIndex != 12 {
		t.Errorf("bos anchor = %d, want 12", bos.AnchorIndex)
	}
	if !almostEq(bos.Zone.Lower, 12.0) || !almostEq(bos.Zone.Upper, 12.4) {
		t.Errorf("bos zone = %+v, want [12.0, 12.4]", bos.Zone)
	}
	if !bos.Mitigated {
		t.Error("price closed back under 12.0, bos should be mitigated")
	}

	choch := got[1]
	if choch.Kind != KindCHoCH || choch.Side != Bearish {
		t.Errorf("second break = %s/%s, want choch/bearish", choch.Kind, choch.Side)
	}
	if choch.AnchorIndex != 19 {
		t.Errorf("choch anchor = %d, want 19", choch.AnchorIndex)
	}
	if choch.Mitigated {
		t.Error("nothing closed back above 11.2, choch should stand")
	}
}

func TestDetectAssemblesInventory(t *testing.T) {
	inv := NewDetector(Config{}).Detect("BTC/USDT", ohlcv.TF4h, breakSeries())
	if inv.Symbol != "BTC/USDT" || inv.Timeframe != ohlcv.TF4h {
		t.Fatalf("identity = %s %s", inv.Symbol, inv.Timeframe)
	}
	if inv.Bars != 20 {
		t.Errorf("bars = %d, want 20", inv.Bars)
	}
	if len(inv.Breaks) != 2 {
		t.Errorf("breaks = %d, want 2", len(inv.Breaks))
	}
	last, ok := inv.LastBreak()
	if !ok || last.Kind != KindCHoCH {
		t.Errorf("last break = %+v ok=%v, want choch", last, ok)
	}
}

func TestInventoryFreshAndNearestZone(t *testing.T) {
	inv := Inventory{
		OrderBlocks: []Pattern{
			{Kind: KindOrderBlock, Side: Bullish, Zone: Zone{Lower: 10, Upper: 11}, AnchorIndex: 2},
			{Kind: KindOrderBlock, Side: Bullish, Zone: Zone{Lower: 15, Upper: 16}, AnchorIndex: 5, Mitigated: true},
			{Kind: KindOrderBlock, Side: Bearish, Zone: Zone{Lower: 20, Upper: 21}, AnchorIndex: 7},
		},
		Breaks: []Pattern{
			{Kind: KindBOS, Side: Bullish, AnchorIndex: 3},
			{Kind: KindCHoCH, Side: Bearish, AnchorIndex: 8},
		},
	}

	fresh := inv.Fresh(KindOrderBlock, Bullish)
	if len(fresh) != 1 || fresh[0].AnchorIndex != 2 {
		t.Fatalf("fresh = %+v, want only the unmitigated bullish block", fresh)
	}

	bos := inv.Fresh(KindBOS, Bullish)
	if len(bos) != 1 || bos[0].Kind != KindBOS {
		t.Fatalf("fresh bos = %+v", bos)
	}

	near, ok := inv.NearestZone(KindOrderBlock, Bullish, 12)
	if !ok || near.AnchorIndex != 2 {
		t.Fatalf("nearest = %+v ok=%v, want anchor 2", near, ok)
	}
	if _, ok := inv.NearestZone(KindFVG, Bullish, 12); ok {
		t.Error("no fvgs recorded, nearest should miss")
	}

	all := inv.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].AnchorIndex > all[i].AnchorIndex {
			t.Fatalf("all() out of order at %d: %+v", i, all)
		}
	}
}

func TestZoneGeometry(t *testing.T) {
	z := Zone{Lower: 10, Upper: 12}
	if !z.Contains(11) || z.Contains(9.99) {
		t.Error("contains misbehaves at the boundary")
	}
	if !almostEq(z.Mid(), 11) || !almostEq(z.Width(), 2) {
		t.Errorf("mid=%v width=%v", z.Mid(), z.Width())
	}
	if !almostEq(z.Distance(9), 1) || !almostEq(z.Distance(13), 1) || !almostEq(z.Distance(11), 0) {
		t.Errorf("distance wrong: %v %v %v", z.Distance(9), z.Distance(13), z.Distance(11))
	}
}

func TestDetectorConfigDefaults(t *testing.T) {
	def := DefaultConfig()
	if def.PivotLookback != 3 || !almostEq(def.MinGapPct, 0.1) || !almostEq(def.DisplacementATR, 1.2) {
		t.Fatalf("defaults = %+v", def)
	}
}
