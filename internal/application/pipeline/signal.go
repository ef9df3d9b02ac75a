package pipeline

import (
	"sort"
	"time"

	"github.com/smcscan/smcscan/internal/domain/cycle"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/domain/score"
	"github.com/smcscan/smcscan/internal/risk"
)

// Rejection reasons. These are the stable keys used in job accounting,
// telemetry payloads, and the signals_rejected_total metric label.
const (
	ReasonDataUnavailable = "data_unavailable"
	ReasonScorerBlocked   = "scorer_blocked"
	ReasonBelowThreshold  = "below_threshold"
	ReasonRiskRejected    = "risk_rejected"
	ReasonCooldownActive  = "cooldown_active"
	ReasonInternalError   = "internal_error"
)

// PriceZone is a horizontal band of prices, low inclusive to high.
type PriceZone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Signal is one emitted setup: the scored direction plus the trade
// proposal derived from structure, and the full audit trace behind it.
type Signal struct {
	RunID        string           `json:"run_id"`
	Symbol       string           `json:"symbol"`
	Direction    score.Direction  `json:"direction"`
	Mode         string           `json:"mode"`
	Score        float64          `json:"score"`
	Regime       string           `json:"regime"`
	MarketRegime string           `json:"market_regime"`
	Entry        PriceZone        `json:"entry"`
	EntryPrice   float64          `json:"entry_price"`
	Stop         float64          `json:"stop"`
	Targets      []float64        `json:"targets"`
	Size         *risk.SizeResult `json:"size,omitempty"`
	Cycle        *cycle.Context   `json:"cycle,omitempty"`
	Trace        score.Trace      `json:"trace"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Rejection records why a scanned symbol emitted nothing. Stage names
// match the telemetry step labels so the two accountings line up.
type Rejection struct {
	Symbol      string         `json:"symbol"`
	Stage       string         `json:"stage"`
	Reason      string         `json:"reason"`
	Message     string         `json:"message,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// Result aggregates one scan run. Signals are ranked best-first once
// the run finishes; Rejections stay in completion order.
type Result struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	Market     regime.Regime `json:"market_regime"`
	Signals    []Signal      `json:"signals"`
	Rejections []Rejection   `json:"rejections"`
	Scanned    int           `json:"scanned"`
	Total      int           `json:"total"`
	Duration   time.Duration `json:"duration"`
	Cancelled  bool          `json:"cancelled"`
}

// rankSignals orders signals best-first: score, then the raw
// higher-timeframe alignment, then the calmer volatility read, then
// symbol for a stable tail.
func rankSignals(sigs []Signal) {
	sort.SliceStable(sigs, func(i, j int) bool {
		a, b := &sigs[i], &sigs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ah := a.Trace.FactorRaw(score.FactorHTFTrend)
		bh := b.Trace.FactorRaw(score.FactorHTFTrend)
		if ah != bh {
			return ah > bh
		}
		if a.Trace.EntryATRPct != b.Trace.EntryATRPct {
			return a.Trace.EntryATRPct < b.Trace.EntryATRPct
		}
		return a.Symbol < b.Symbol
	})
}

// RejectionsByReason tallies rejections per reason key.
func (r *Result) RejectionsByReason() map[string]int {
	out := make(map[string]int, len(r.Rejections))
	for _, rej := range r.Rejections {
		out[rej.Reason]++
	}
	return out
}

// RejectionsByStage tallies rejections per pipeline stage.
func (r *Result) RejectionsByStage() map[string]int {
	out := make(map[string]int, len(r.Rejections))
	for _, rej := range r.Rejections {
		out[rej.Stage]++
	}
	return out
}
