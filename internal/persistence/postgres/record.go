package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/smcscan/smcscan/internal/application/pipeline"
)

// Record is one archived signal row. The full scoring trace rides along
// as JSONB so a signal can be audited long after the run's artifact is
// gone.
type Record struct {
	ID           int64           `db:"id" json:"id"`
	RunID        string          `db:"run_id" json:"run_id"`
	Symbol       string          `db:"symbol" json:"symbol"`
	Direction    string          `db:"direction" json:"direction"`
	Mode         string          `db:"mode" json:"mode"`
	Score        float64         `db:"score" json:"score"`
	Regime       string          `db:"regime" json:"regime"`
	MarketRegime string          `db:"market_regime" json:"market_regime"`
	EntryLow     float64         `db:"entry_low" json:"entry_low"`
	EntryHigh    float64         `db:"entry_high" json:"entry_high"`
	EntryPrice   float64         `db:"entry_price" json:"entry_price"`
	Stop         float64         `db:"stop" json:"stop"`
	Targets      pq.Float64Array `db:"targets" json:"targets"`
	Trace        types.JSONText  `db:"trace" json:"trace"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ArchivedAt   time.Time       `db:"archived_at" json:"archived_at"`
}

func newRecord(sig pipeline.Signal) (Record, error) {
	trace, err := json.Marshal(sig.Trace)
	if err != nil {
		return Record{}, fmt.Errorf("postgres: marshal trace for %s: %w", sig.Symbol, err)
	}
	return Record{
		RunID:        sig.RunID,
		Symbol:       sig.Symbol,
		Direction:    string(sig.Direction),
		Mode:         sig.Mode,
		Score:        sig.Score,
		Regime:       sig.Regime,
		MarketRegime: sig.MarketRegime,
		EntryLow:     sig.Entry.Low,
		EntryHigh:    sig.Entry.High,
		EntryPrice:   sig.EntryPrice,
		Stop:         sig.Stop,
		Targets:      pq.Float64Array(sig.Targets),
		Trace:        types.JSONText(trace),
		CreatedAt:    sig.CreatedAt,
	}, nil
}
