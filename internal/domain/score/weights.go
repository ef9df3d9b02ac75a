package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/smcscan/smcscan/internal/domain/regime"
)

// ErrInvalidWeights marks a weight table or synergy rule set that cannot be
// scored with. Construction fails at startup rather than at scan time.
var ErrInvalidWeights = errors.New("invalid scoring configuration")

// weightTolerance is how far a table's sum may drift from 1.0.
const weightTolerance = 1e-6

// Weights maps factor name to its share of the weighted base. A valid table
// covers exactly the canonical factors and sums to 1.0.
type Weights map[string]float64

// Validate checks the table covers every canonical factor, nothing else,
// each weight in [0,1], and the sum within tolerance of 1.0.
func (w Weights) Validate() error {
	if len(w) != len(factorOrder) {
		return fmt.Errorf("%w: %d weights, want %d", ErrInvalidWeights, len(w), len(factorOrder))
	}
	sum := 0.0
	for _, name := range factorOrder {
		v, ok := w[name]
		if !ok {
			return fmt.Errorf("%w: missing factor %s", ErrInvalidWeights, name)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s weight %.4f outside [0,1]", ErrInvalidWeights, name, v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.8f, want 1.0", ErrInvalidWeights, sum)
	}
	return nil
}

// modeWeights pins the built-in factor mixes. Macro surveillance leans on
// higher-timeframe trend and cycle position, precision on pattern quality,
// with the other two modes between them.
var modeWeights = map[string]Weights{
	regime.ModeMacroSurveillance: {
		FactorHTFTrend:         0.18,
		FactorMTFConfluence:    0.12,
		FactorStructuralBreak:  0.10,
		FactorOrderBlock:       0.06,
		FactorFVG:              0.04,
		FactorLiquiditySweep:   0.04,
		FactorSwingClarity:     0.08,
		FactorMomentum:         0.08,
		FactorVolatilityRegime: 0.06,
		FactorVolumeProfile:    0.06,
		FactorCycleAlignment:   0.12,
		FactorMacroBias:        0.06,
	},
	regime.ModeStealthBalanced: {
		FactorHTFTrend:         0.14,
		FactorMTFConfluence:    0.10,
		FactorStructuralBreak:  0.12,
		FactorOrderBlock:       0.10,
		FactorFVG:              0.07,
		FactorLiquiditySweep:   0.07,
		FactorSwingClarity:     0.08,
		FactorMomentum:         0.10,
		FactorVolatilityRegime: 0.07,
		FactorVolumeProfile:    0.07,
		FactorCycleAlignment:   0.05,
		FactorMacroBias:        0.03,
	},
	regime.ModeIntradayAggressive: {
		FactorHTFTrend:         0.10,
		FactorMTFConfluence:    0.08,
		FactorStructuralBreak:  0.15,
		FactorOrderBlock:       0.12,
		FactorFVG:              0.09,
		FactorLiquiditySweep:   0.10,
		FactorSwingClarity:     0.07,
		FactorMomentum:         0.12,
		FactorVolatilityRegime: 0.08,
		FactorVolumeProfile:    0.06,
		FactorCycleAlignment:   0.02,
		FactorMacroBias:        0.01,
	},
	regime.ModePrecision: {
		FactorHTFTrend:         0.08,
		FactorMTFConfluence:    0.06,
		FactorStructuralBreak:  0.16,
		FactorOrderBlock:       0.15,
		FactorFVG:              0.12,
		FactorLiquiditySweep:   0.12,
		FactorSwingClarity:     0.08,
		FactorMomentum:         0.09,
		FactorVolatilityRegime: 0.07,
		FactorVolumeProfile:    0.05,
		FactorCycleAlignment:   0.01,
		FactorMacroBias:        0.01,
	},
}

// WeightsFor returns a copy of the mode's pinned weight table.
func WeightsFor(mode string) (Weights, error) {
	w, ok := modeWeights[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidWeights, mode)
	}
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out, nil
}

// MinConfluenceFor returns the default signal threshold for a mode. Configs
// may override it; the pipeline rejects scores below it.
func MinConfluenceFor(mode string) float64 {
	switch mode {
	case regime.ModeMacroSurveillance:
		return 70
	case regime.ModeIntradayAggressive:
		return 60
	case regime.ModePrecision:
		return 75
	default:
		return 65
	}
}

// SynergyCap bounds the total confluence bonus regardless of how many rules
// fire. The uncapped legacy bonus averaged 18 points and clustered scores.
const SynergyCap = 15.0

// SynergyRule adds a fixed bonus when every listed factor reaches Min.
type SynergyRule struct {
	Name    string   `yaml:"name" json:"name"`
	Factors []string `yaml:"factors" json:"factors"`
	Min     float64  `yaml:"min" json:"min"`
	Bonus   float64  `yaml:"bonus" json:"bonus"`
}

// DefaultSynergy returns the built-in confluence families.
func DefaultSynergy() []SynergyRule {
	return []SynergyRule{
		{Name: "break_block_trend", Factors: []string{FactorStructuralBreak, FactorOrderBlock, FactorHTFTrend}, Min: 70, Bonus: 8},
		{Name: "sweep_reversal", Factors: []string{FactorLiquiditySweep, FactorStructuralBreak}, Min: 70, Bonus: 5},
		{Name: "squeeze_ignition", Factors: []string{FactorVolatilityRegime, FactorMomentum, FactorVolumeProfile}, Min: 70, Bonus: 5},
		{Name: "cycle_tailwind", Factors: []string{FactorCycleAlignment, FactorMacroBias}, Min: 70, Bonus: 4},
	}
}

func validateSynergy(rules []SynergyRule) error {
	known := make(map[string]bool, len(factorOrder))
	for _, name := range factorOrder {
		known[name] = true
	}
	for _, r := range rules {
		if r.Name == "" {
			return fmt.Errorf("%w: synergy rule without a name", ErrInvalidWeights)
		}
		if len(r.Factors) == 0 {
			return fmt.Errorf("%w: synergy rule %s lists no factors", ErrInvalidWeights, r.Name)
		}
		for _, name := range r.Factors {
			if !known[name] {
				return fmt.Errorf("%w: synergy rule %s references unknown factor %s", ErrInvalidWeights, r.Name, name)
			}
		}
		if r.Min < 0 || r.Min > 100 {
			return fmt.Errorf("%w: synergy rule %s threshold %.1f outside [0,100]", ErrInvalidWeights, r.Name, r.Min)
		}
		if r.Bonus <= 0 {
			return fmt.Errorf("%w: synergy rule %s bonus %.1f must be positive", ErrInvalidWeights, r.Name, r.Bonus)
		}
	}
	return nil
}
