// Package score turns one symbol's multi-timeframe evidence into a bounded
// confluence score. Twelve canonical factors are weighted per mode profile,
// confluence families add a capped synergy bonus, opposing signals subtract
// uncapped penalties, and a strict higher-timeframe gate can block the setup
// outright. Every pass emits a trace carrying raw values, weights and
// rationales so a score can be replayed from its parts.
package score

import (
	"fmt"
	"sort"
	"time"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Direction is the proposed trade side.
type Direction string

const (
	DirLong  Direction = "long"
	DirShort Direction = "short"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirLong {
		return DirShort
	}
	return DirLong
}

func (d Direction) valid() bool { return d == DirLong || d == DirShort }

// Factor is one scored dimension of the confluence read.
type Factor struct {
	Name         string  `json:"name"`
	Raw          float64 `json:"raw"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Rationale    string  `json:"rationale"`
	Degraded     bool    `json:"degraded,omitempty"`
}

// Components breaks the final score into its aggregation terms. Final is
// clamp(base + synergy + gate - penalty + macro, 0, 100).
type Components struct {
	WeightedBase float64 `json:"weighted_base"`
	Synergy      float64 `json:"synergy"`
	Gate         float64 `json:"gate_adjustment"`
	Penalty      float64 `json:"penalty"`
	Macro        float64 `json:"macro"`
}

// Trace is the full, replayable record of one scoring pass.
type Trace struct {
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	Mode        string          `json:"mode"`
	EntryTF     ohlcv.Timeframe `json:"entry_tf"`
	Factors     []Factor        `json:"factors"`
	Components  Components      `json:"components"`
	Gate        GateResult      `json:"gate"`
	Final       float64         `json:"final_score"`
	Verdict     Verdict         `json:"verdict"`
	EntryATRPct float64         `json:"entry_atr_pct"`
	Notes       []string        `json:"notes,omitempty"`
	ScoredAt    time.Time       `json:"scored_at"`
}

// FactorRaw returns the named factor's raw value, zero when absent.
func (t Trace) FactorRaw(name string) float64 {
	for _, f := range t.Factors {
		if f.Name == name {
			return f.Raw
		}
	}
	return 0
}

// Scorer scores symbols under one mode profile. Construct once at startup;
// the weight table is validated there and never mutated afterwards.
type Scorer struct {
	mode    string
	weights Weights
	synergy []SynergyRule
}

// New builds a scorer with the mode's pinned weight table and the default
// synergy rules.
func New(mode string) (*Scorer, error) {
	w, err := WeightsFor(mode)
	if err != nil {
		return nil, err
	}
	return NewWithWeights(mode, w, DefaultSynergy())
}

// NewWithWeights builds a scorer from an explicit weight table, for configs
// that override the built-in profiles.
func NewWithWeights(mode string, w Weights, rules []SynergyRule) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("mode %s: %w", mode, err)
	}
	if err := validateSynergy(rules); err != nil {
		return nil, fmt.Errorf("mode %s: %w", mode, err)
	}
	cp := make(Weights, len(w))
	for k, v := range w {
		cp[k] = v
	}
	return &Scorer{mode: mode, weights: cp, synergy: append([]SynergyRule(nil), rules...)}, nil
}

// Mode returns the profile this scorer was built for.
func (s *Scorer) Mode() string { return s.mode }

// Score runs the full aggregation for one symbol and direction.
func (s *Scorer) Score(in Inputs) (Trace, error) {
	if !in.Direction.valid() {
		return Trace{}, fmt.Errorf("score %s: direction %q is not long or short", in.Symbol, in.Direction)
	}
	e := newEnv(in)
	tr := Trace{
		Symbol:    in.Symbol,
		Direction: in.Direction,
		Mode:      s.mode,
		EntryTF:   e.entry,
		Factors:   make([]Factor, 0, len(factorOrder)),
		ScoredAt:  time.Now().UTC(),
	}
	if e.snapOK {
		tr.EntryATRPct = e.snap.ATRPct
	}

	for _, name := range factorOrder {
		f := factorFns[name](in, e)
		f.Weight = s.weights[name]
		f.Contribution = f.Raw * f.Weight
		tr.Components.WeightedBase += f.Contribution
		tr.Factors = append(tr.Factors, f)
	}

	for _, rule := range s.synergy {
		if ruleFires(rule, tr.Factors) {
			tr.Components.Synergy += rule.Bonus
			tr.Notes = append(tr.Notes, "synergy: "+rule.Name)
		}
	}
	if tr.Components.Synergy > SynergyCap {
		tr.Components.Synergy = SynergyCap
	}

	for _, p := range conflictPenalties(in, e) {
		tr.Components.Penalty += p.amount
		tr.Notes = append(tr.Notes, "penalty: "+p.note)
	}

	var macroNote string
	tr.Components.Macro, macroNote = macroTerm(in)
	if macroNote != "" {
		tr.Notes = append(tr.Notes, macroNote)
	}

	tr.Gate = resolveTimeframeConflicts(in, e)
	tr.Components.Gate = tr.Gate.Adjustment
	tr.Verdict = tr.Gate.Verdict

	sum := tr.Components.WeightedBase + tr.Components.Synergy + tr.Components.Gate -
		tr.Components.Penalty + tr.Components.Macro
	tr.Final = clamp(sum, 0, 100)
	if tr.Gate.Verdict == VerdictBlocked {
		tr.Final = 0
		tr.Notes = append(tr.Notes, "blocked: "+tr.Gate.Rationale)
	}
	return tr, nil
}

func ruleFires(rule SynergyRule, factors []Factor) bool {
	for _, name := range rule.Factors {
		found := false
		for _, f := range factors {
			if f.Name == name {
				if f.Raw < rule.Min {
					return false
				}
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Rank orders traces best-first: final score, then higher-timeframe
// alignment, then calmer volatility, then symbol for a stable total order.
func Rank(traces []Trace) {
	sort.SliceStable(traces, func(i, j int) bool {
		a, b := traces[i], traces[j]
		if a.Final != b.Final {
			return a.Final > b.Final
		}
		if ah, bh := a.FactorRaw(FactorHTFTrend), b.FactorRaw(FactorHTFTrend); ah != bh {
			return ah > bh
		}
		if a.EntryATRPct != b.EntryATRPct {
			return a.EntryATRPct < b.EntryATRPct
		}
		return a.Symbol < b.Symbol
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
