package ohlcv

import (
	"errors"
	"testing"
	"time"
)

func bar(ts int64, o, h, l, c, v float64) Bar {
	return Bar{Timestamp: time.Unix(ts, 0).UTC(), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestBarValidate(t *testing.T) {
	cases := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{"valid bullish", bar(1000, 100, 110, 95, 105, 10), false},
		{"valid bearish", bar(1000, 105, 110, 95, 100, 10), false},
		{"valid doji", bar(1000, 100, 100, 100, 100, 0), false},
		{"low above open", bar(1000, 100, 110, 101, 105, 10), true},
		{"high below close", bar(1000, 100, 104, 95, 105, 10), true},
		{"negative volume", bar(1000, 100, 110, 95, 105, -1), true},
		{"zero timestamp", Bar{Open: 100, High: 110, Low: 95, Close: 105, Volume: 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.bar.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && !errors.Is(err, ErrBadBar) {
				t.Errorf("error should wrap ErrBadBar, got %v", err)
			}
		})
	}
}

func TestCleanDropsMalformedAndSorts(t *testing.T) {
	in := []Bar{
		bar(3000, 100, 110, 95, 105, 10),
		bar(1000, 100, 110, 95, 105, 10),
		bar(2000, 100, 90, 95, 105, 10), // high below body
		bar(4000, 100, 110, 95, 105, -5),
	}
	kept, dropped := Clean(in)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(kept) != 2 {
		t.Fatalf("kept = %d bars, want 2", len(kept))
	}
	if !kept[0].Timestamp.Before(kept[1].Timestamp) {
		t.Errorf("kept bars not ascending: %v, %v", kept[0].Timestamp, kept[1].Timestamp)
	}
}

func TestCleanCollapsesDuplicateTimestamps(t *testing.T) {
	in := []Bar{
		bar(1000, 100, 110, 95, 105, 10),
		bar(1000, 101, 111, 96, 106, 11),
		bar(2000, 100, 110, 95, 105, 10),
	}
	kept, dropped := Clean(in)
	if len(kept) != 2 || dropped != 1 {
		t.Fatalf("kept=%d dropped=%d, want 2/1", len(kept), dropped)
	}
	if kept[0].Close != 106 {
		t.Errorf("duplicate should keep last occurrence, close = %v", kept[0].Close)
	}
}

func TestCheckSpacing(t *testing.T) {
	ok := []Bar{bar(0, 1, 1, 1, 1, 1), bar(3600, 1, 1, 1, 1, 1), bar(10800, 1, 1, 1, 1, 1)} // gap of 2 bars allowed
	if err := CheckSpacing(ok, TF1h); err != nil {
		t.Errorf("whole-multiple gap should pass: %v", err)
	}
	bad := []Bar{bar(0, 1, 1, 1, 1, 1), bar(1800, 1, 1, 1, 1, 1)}
	if err := CheckSpacing(bad, TF1h); err == nil {
		t.Errorf("irregular spacing should fail")
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("4h")
	if err != nil || tf != TF4h {
		t.Fatalf("ParseTimeframe(4h) = %v, %v", tf, err)
	}
	if tf.Duration() != 4*time.Hour {
		t.Errorf("4h duration = %v", tf.Duration())
	}
	if _, err := ParseTimeframe("7m"); err == nil {
		t.Errorf("unknown code should error")
	}
}

func TestInferTimeframe(t *testing.T) {
	bars := make([]Bar, 0, 10)
	for i := int64(0); i < 10; i++ {
		bars = append(bars, bar(i*900, 1, 1, 1, 1, 1))
	}
	tf, ok := InferTimeframe(bars)
	if !ok || tf != TF15m {
		t.Fatalf("inferred %v ok=%v, want 15m", tf, ok)
	}
	if _, ok := InferTimeframe(bars[:1]); ok {
		t.Errorf("single bar should not infer")
	}
}

func TestBundlePutEnforcesMinimum(t *testing.T) {
	b := NewBundle("BTC/USDT")
	bars := make([]Bar, 0, 20)
	for i := int64(0); i < 20; i++ {
		bars = append(bars, bar(i*3600, 100, 110, 95, 105, 10))
	}
	if err := b.Put(TF1h, bars, 50); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("want ErrInsufficientData, got %v", err)
	}
	if err := b.Put(TF1h, bars, 14); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := b.Get(TF1h)
	if !ok || len(got) != 20 {
		t.Errorf("Get returned %d bars ok=%v", len(got), ok)
	}
}

func TestBundleHighest(t *testing.T) {
	b := NewBundle("ETH/USDT")
	series := []Bar{bar(0, 1, 2, 0.5, 1.5, 1), bar(14400, 1, 2, 0.5, 1.5, 1)}
	b.Series[TF4h] = series
	b.Series[TF15m] = series
	tf, ok := b.Highest([]Timeframe{TF1w, TF1d, TF4h, TF1h, TF30m, TF15m})
	if !ok || tf != TF4h {
		t.Errorf("Highest = %v ok=%v, want 4h", tf, ok)
	}
}
