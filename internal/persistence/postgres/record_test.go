package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smcscan/smcscan/internal/application/pipeline"
	"github.com/smcscan/smcscan/internal/domain/score"
)

func TestNewRecordFlattensSignal(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sig := pipeline.Signal{
		RunID:        "run-42",
		Symbol:       "BTC/USDT",
		Direction:    score.DirLong,
		Mode:         "stealth_balanced",
		Score:        81.5,
		Regime:       "trending_bull",
		MarketRegime: "trending_bull",
		Entry:        pipeline.PriceZone{Low: 67000, High: 67400},
		EntryPrice:   67350,
		Stop:         66200,
		Targets:      []float64{69075, 70800},
		Trace: score.Trace{
			Symbol:    "BTC/USDT",
			Direction: score.DirLong,
			Final:     81.5,
		},
		CreatedAt: created,
	}

	rec, err := newRecord(sig)
	require.NoError(t, err)

	assert.Equal(t, "run-42", rec.RunID)
	assert.Equal(t, "BTC/USDT", rec.Symbol)
	assert.Equal(t, "LONG", rec.Direction)
	assert.Equal(t, "stealth_balanced", rec.Mode)
	assert.InDelta(t, 81.5, rec.Score, 1e-9)
	assert.InDelta(t, 67000, rec.EntryLow, 1e-9)
	assert.InDelta(t, 67400, rec.EntryHigh, 1e-9)
	assert.InDelta(t, 66200, rec.Stop, 1e-9)
	assert.Equal(t, []float64{69075, 70800}, []float64(rec.Targets))
	assert.Equal(t, created, rec.CreatedAt)
	assert.True(t, rec.ArchivedAt.IsZero(), "archive timestamp is assigned by the database")

	var trace score.Trace
	require.NoError(t, json.Unmarshal(rec.Trace, &trace))
	assert.Equal(t, "BTC/USDT", trace.Symbol)
	assert.InDelta(t, 81.5, trace.Final, 1e-9)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")
}
