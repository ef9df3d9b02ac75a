package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSizing marks sizing inputs that cannot produce an order.
var ErrInvalidSizing = errors.New("invalid sizing inputs")

// Sizing method names, also used by the mode configuration.
const (
	MethodFixedFractional = "fixed_fractional"
	MethodKelly           = "kelly"
	MethodATRBased        = "atr_based"
	MethodFixedDollarRisk = "fixed_dollar_risk"
)

// SizeResult is a fully constrained order size. RiskAmount and the
// percentages are recomputed after constraint scaling.
type SizeResult struct {
	Quantity    float64            `json:"quantity"`
	Notional    float64            `json:"notional"`
	RiskAmount  float64            `json:"risk_amount"`
	RiskPct     float64            `json:"risk_pct"`
	PositionPct float64            `json:"position_pct"`
	Method      string             `json:"method"`
	Metadata    map[string]float64 `json:"metadata,omitempty"`
}

// SizerConfig tunes the sizing strategies and shared constraints.
// Percentages are 0..100; MinOrderValue is quote currency.
type SizerConfig struct {
	MaxRiskPct     float64 `yaml:"max_risk_pct" json:"max_risk_pct"`
	MaxPositionPct float64 `yaml:"max_position_pct" json:"max_position_pct"`
	MinOrderValue  float64 `yaml:"min_order_value" json:"min_order_value"`
	KellyFraction  float64 `yaml:"kelly_fraction" json:"kelly_fraction"`
	DefaultRiskPct float64 `yaml:"default_risk_pct" json:"default_risk_pct"`
}

// DefaultSizerConfig is the conservative scanner profile.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		MaxRiskPct:     2,
		MaxPositionPct: 25,
		MinOrderValue:  10,
		KellyFraction:  0.25,
		DefaultRiskPct: 1,
	}
}

// Sizer turns risk budgets into order quantities.
type Sizer struct {
	cfg SizerConfig
}

// NewSizer fills unset config fields with defaults.
func NewSizer(cfg SizerConfig) *Sizer {
	def := DefaultSizerConfig()
	if cfg.MaxRiskPct <= 0 {
		cfg.MaxRiskPct = def.MaxRiskPct
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = def.MaxPositionPct
	}
	if cfg.MinOrderValue <= 0 {
		cfg.MinOrderValue = def.MinOrderValue
	}
	if cfg.KellyFraction <= 0 {
		cfg.KellyFraction = def.KellyFraction
	}
	if cfg.DefaultRiskPct <= 0 {
		cfg.DefaultRiskPct = def.DefaultRiskPct
	}
	return &Sizer{cfg: cfg}
}

// FixedFractional risks riskPct of the balance between entry and stop.
// Leverage never changes quantity or risk, only the margin constraint.
func (s *Sizer) FixedFractional(balance, riskPct, entry, stop, leverage float64) (SizeResult, error) {
	if err := validateCore(balance, entry, stop); err != nil {
		return SizeResult{}, err
	}
	if riskPct <= 0 || riskPct > 100 {
		return SizeResult{}, fmt.Errorf("%w: risk_pct %.2f outside (0,100]", ErrInvalidSizing, riskPct)
	}
	riskAmount := balance * riskPct / 100
	qty := riskAmount / math.Abs(entry-stop)
	return s.finalize(SizeResult{Quantity: qty, Method: MethodFixedFractional}, balance, entry, stop, leverage)
}

// Kelly sizes from the historical edge, scaled by the Kelly fraction and
// clamped to the per-trade risk cap. A non-positive edge returns quantity
// zero with the negative_edge flag set instead of an error.
func (s *Sizer) Kelly(balance, winRate, avgWinR, avgLossR, entry, stop, leverage float64) (SizeResult, error) {
	if err := validateCore(balance, entry, stop); err != nil {
		return SizeResult{}, err
	}
	if winRate < 0 || winRate > 1 {
		return SizeResult{}, fmt.Errorf("%w: win_rate %.2f outside [0,1]", ErrInvalidSizing, winRate)
	}
	if avgWinR <= 0 || avgLossR <= 0 {
		return SizeResult{}, fmt.Errorf("%w: average win and loss must be positive", ErrInvalidSizing)
	}

	b := avgWinR / avgLossR
	kellyPct := ((winRate*b - (1 - winRate)) / b) * s.cfg.KellyFraction
	if kellyPct > s.cfg.MaxRiskPct/100 {
		kellyPct = s.cfg.MaxRiskPct / 100
	}
	if kellyPct <= 0 {
		return SizeResult{
			Method:   MethodKelly,
			Metadata: map[string]float64{"negative_edge": 1, "kelly_pct": 0},
		}, nil
	}

	res, err := s.FixedFractional(balance, kellyPct*100, entry, stop, leverage)
	if err != nil {
		return SizeResult{}, err
	}
	res.Method = MethodKelly
	res.Metadata = mergeMeta(res.Metadata, map[string]float64{"kelly_pct": kellyPct, "edge_b": b})
	return res, nil
}

// ATRBased places the stop atr*multiplier away from entry and delegates.
// A zero riskPct uses the configured default.
func (s *Sizer) ATRBased(balance, atr, atrMultiplier, entry, riskPct, leverage float64) (SizeResult, error) {
	if atr <= 0 || atrMultiplier <= 0 {
		return SizeResult{}, fmt.Errorf("%w: atr and multiplier must be positive", ErrInvalidSizing)
	}
	if riskPct <= 0 {
		riskPct = s.cfg.DefaultRiskPct
	}
	stop := entry - atr*atrMultiplier

	res, err := s.FixedFractional(balance, riskPct, entry, stop, leverage)
	if err != nil {
		return SizeResult{}, err
	}
	res.Method = MethodATRBased
	res.Metadata = mergeMeta(res.Metadata, map[string]float64{"stop_distance": atr * atrMultiplier})
	return res, nil
}

// FixedDollarRisk risks an absolute quote amount between entry and stop.
func (s *Sizer) FixedDollarRisk(balance, riskAmount, entry, stop, leverage float64) (SizeResult, error) {
	if err := validateCore(balance, entry, stop); err != nil {
		return SizeResult{}, err
	}
	if riskAmount <= 0 {
		return SizeResult{}, fmt.Errorf("%w: risk_amount must be positive", ErrInvalidSizing)
	}
	qty := riskAmount / math.Abs(entry-stop)
	return s.finalize(SizeResult{Quantity: qty, Method: MethodFixedDollarRisk}, balance, entry, stop, leverage)
}

// finalize applies the shared constraints in order: venue minimum scale-up,
// position cap scale-down, margin scale-down. Risk figures are recomputed
// from the final quantity.
func (s *Sizer) finalize(res SizeResult, balance, entry, stop, leverage float64) (SizeResult, error) {
	if leverage < 1 {
		leverage = 1
	}
	notional := res.Quantity * entry

	if notional < s.cfg.MinOrderValue {
		res.Quantity = s.cfg.MinOrderValue / entry
		notional = s.cfg.MinOrderValue
		res.Metadata = mergeMeta(res.Metadata, map[string]float64{"min_order_scaled": 1})
	}
	if maxNotional := s.cfg.MaxPositionPct / 100 * balance; notional > maxNotional {
		res.Quantity = maxNotional / entry
		notional = maxNotional
		res.Metadata = mergeMeta(res.Metadata, map[string]float64{"max_position_scaled": 1})
	}
	if notional/leverage > balance {
		res.Quantity = balance * leverage / entry
		notional = balance * leverage
		res.Metadata = mergeMeta(res.Metadata, map[string]float64{"margin_scaled": 1})
	}

	res.Notional = notional
	res.RiskAmount = res.Quantity * math.Abs(entry-stop)
	res.RiskPct = res.RiskAmount / balance * 100
	res.PositionPct = notional / balance * 100

	if res.Quantity < 0 || res.Notional < 0 || res.RiskAmount < 0 {
		return SizeResult{}, fmt.Errorf("%w: negative sizing result", ErrInvalidSizing)
	}
	if res.RiskPct > 100 {
		return SizeResult{}, fmt.Errorf("%w: %.2f%% of balance at risk after constraints", ErrInvalidSizing, res.RiskPct)
	}
	return res, nil
}

func validateCore(balance, entry, stop float64) error {
	if balance <= 0 {
		return fmt.Errorf("%w: balance must be positive", ErrInvalidSizing)
	}
	if entry <= 0 {
		return fmt.Errorf("%w: entry must be positive", ErrInvalidSizing)
	}
	if entry == stop {
		return fmt.Errorf("%w: entry equals stop", ErrInvalidSizing)
	}
	return nil
}

func mergeMeta(dst, src map[string]float64) map[string]float64 {
	if dst == nil {
		dst = make(map[string]float64, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
