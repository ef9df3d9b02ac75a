// Package risk enforces portfolio limits before a signal becomes an order:
// exposure and loss caps under one lock, correlation grouping, position
// sizing, and persistent per-direction cooldowns.
package risk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Direction strings shared with the scorer's signal direction.
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// ErrInvalidConfig marks a risk configuration that must abort startup.
var ErrInvalidConfig = errors.New("invalid risk config")

// Limit names reported in Check.LimitsHit.
const (
	LimitMaxOpenPositions      = "max_open_positions"
	LimitAssetExposure         = "asset_exposure"
	LimitCorrelatedExposure    = "correlated_exposure"
	LimitDailyLoss             = "daily_loss_limit"
	LimitWeeklyLoss            = "weekly_loss_limit"
	LimitPositionConcentration = "position_concentration"
)

// Limits is the portfolio limit configuration. Percentages are 0..100.
type Limits struct {
	MaxOpenPositions            int     `yaml:"max_open_positions" json:"max_open_positions"`
	MaxAssetExposurePct         float64 `yaml:"max_asset_exposure_pct" json:"max_asset_exposure_pct"`
	MaxCorrelatedExposurePct    float64 `yaml:"max_correlated_exposure_pct" json:"max_correlated_exposure_pct"`
	MaxDailyLossPct             float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxWeeklyLossPct            float64 `yaml:"max_weekly_loss_pct" json:"max_weekly_loss_pct"`
	MaxPositionConcentrationPct float64 `yaml:"max_position_concentration_pct" json:"max_position_concentration_pct"`
	CorrelationThreshold        float64 `yaml:"correlation_threshold" json:"correlation_threshold"`
}

// DefaultLimits is the conservative scanner profile.
func DefaultLimits() Limits {
	return Limits{
		MaxOpenPositions:            5,
		MaxAssetExposurePct:         20,
		MaxCorrelatedExposurePct:    40,
		MaxDailyLossPct:             5,
		MaxWeeklyLossPct:            10,
		MaxPositionConcentrationPct: 25,
		CorrelationThreshold:        0.7,
	}
}

// Validate rejects limit sets that would block every trade or allow
// unbounded exposure.
func (l Limits) Validate() error {
	if l.MaxOpenPositions <= 0 {
		return fmt.Errorf("%w: max_open_positions must be positive", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"max_asset_exposure_pct":         l.MaxAssetExposurePct,
		"max_correlated_exposure_pct":    l.MaxCorrelatedExposurePct,
		"max_daily_loss_pct":             l.MaxDailyLossPct,
		"max_weekly_loss_pct":            l.MaxWeeklyLossPct,
		"max_position_concentration_pct": l.MaxPositionConcentrationPct,
	} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("%w: %s must be in (0,100], got %.2f", ErrInvalidConfig, name, v)
		}
	}
	if l.CorrelationThreshold < 0 || l.CorrelationThreshold > 1 {
		return fmt.Errorf("%w: correlation_threshold must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Position is one open holding tracked by the manager.
type Position struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	StopPrice  float64   `json:"stop_price,omitempty"`
	Notional   float64   `json:"notional"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Trade is one closed position in the realized history.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"`
	PnL       float64   `json:"pnl"`
	ClosedAt  time.Time `json:"closed_at"`
}

// Check is the outcome of pre-trade validation. The first failing limit
// short-circuits; Metrics carries the numbers behind the decision.
type Check struct {
	Allowed   bool               `json:"allowed"`
	Reason    string             `json:"reason,omitempty"`
	LimitsHit []string           `json:"limits_hit,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

func blocked(limit, reason string, metrics map[string]float64) Check {
	return Check{Reason: reason, LimitsHit: []string{limit}, Metrics: metrics}
}

// Manager guards the portfolio state. Every mutation and every validation
// runs under the one mutex; blocking sections are short.
type Manager struct {
	mu             sync.Mutex
	balance        float64
	initialBalance float64
	positions      map[string]Position
	trades         []Trade
	corr           Matrix
	limits         Limits
}

// NewManager builds a manager with a starting balance. A non-positive
// balance or invalid limit set is fatal.
func NewManager(balance float64, limits Limits) (*Manager, error) {
	if balance <= 0 {
		return nil, fmt.Errorf("%w: balance must be positive, got %.2f", ErrInvalidConfig, balance)
	}
	if limits.CorrelationThreshold == 0 {
		limits.CorrelationThreshold = 0.7
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		balance:        balance,
		initialBalance: balance,
		positions:      make(map[string]Position),
		limits:         limits,
	}, nil
}

// Balance returns the current account balance.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// SetBalance overrides the account balance, e.g. after an external deposit.
func (m *Manager) SetBalance(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v > 0 {
		m.balance = v
	}
}

// Limits returns the configured limit set.
func (m *Manager) Limits() Limits { return m.limits }

// OpenPosition registers a holding. Notional defaults to quantity times
// entry when unset.
func (m *Manager) OpenPosition(p Position) error {
	if p.Symbol == "" || p.Quantity <= 0 || p.EntryPrice <= 0 {
		return fmt.Errorf("invalid position for %q: quantity and entry must be positive", p.Symbol)
	}
	if p.Notional == 0 {
		p.Notional = p.Quantity * p.EntryPrice
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
	return nil
}

// ClosePosition realizes the position at exitPrice, appends the trade, and
// settles the PnL into the balance.
func (m *Manager) ClosePosition(symbol string, exitPrice float64) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return Trade{}, fmt.Errorf("no open position for %s", symbol)
	}
	pnl := (exitPrice - p.EntryPrice) * p.Quantity
	if strings.EqualFold(p.Direction, DirectionShort) {
		pnl = -pnl
	}
	tr := Trade{Symbol: symbol, Direction: p.Direction, PnL: pnl, ClosedAt: time.Now().UTC()}

	delete(m.positions, symbol)
	m.trades = append(m.trades, tr)
	m.balance += pnl
	return tr, nil
}

// RecordTrade appends a realized trade directly, e.g. fills reported by an
// external engine. History stays ordered by close time.
func (m *Manager) RecordTrade(tr Trade) {
	if tr.ClosedAt.IsZero() {
		tr.ClosedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, tr)
}

// OpenPositions snapshots the holdings, sorted by symbol.
func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PeriodLoss reports the realized loss over the trailing window: wins offset
// losses, and a net-positive window reads as zero loss.
func (m *Manager) PeriodLoss(window time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.periodLossLocked(window)
}

func (m *Manager) periodLossLocked(window time.Duration) float64 {
	cutoff := time.Now().Add(-window)
	var sum float64
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].ClosedAt.Before(cutoff) {
			break
		}
		sum += m.trades[i].PnL
	}
	if sum >= 0 {
		return 0
	}
	return -sum
}

// ValidateNewTrade runs the ordered pre-trade checks. The first failure
// short-circuits with the limit name and the numbers that tripped it.
func (m *Manager) ValidateNewTrade(symbol, direction string, positionValue, riskAmount float64) Check {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.positions[symbol]; !held && len(m.positions) >= m.limits.MaxOpenPositions {
		return blocked(LimitMaxOpenPositions,
			fmt.Sprintf("open positions at limit (%d)", m.limits.MaxOpenPositions),
			map[string]float64{
				"open_positions": float64(len(m.positions)),
				"max":            float64(m.limits.MaxOpenPositions),
			})
	}

	assetBudget := m.limits.MaxAssetExposurePct / 100 * m.balance
	assetExposure := m.assetExposureLocked(symbol)
	if assetExposure+positionValue > assetBudget {
		return blocked(LimitAssetExposure,
			fmt.Sprintf("%s exposure %.2f + %.2f exceeds %.2f", baseAsset(symbol), assetExposure, positionValue, assetBudget),
			map[string]float64{
				"asset_exposure": assetExposure,
				"position_value": positionValue,
				"budget":         assetBudget,
			})
	}

	corrBudget := m.limits.MaxCorrelatedExposurePct / 100 * m.balance
	corrExposure := m.correlatedExposureLocked(symbol)
	if corrExposure+positionValue > corrBudget {
		return blocked(LimitCorrelatedExposure,
			fmt.Sprintf("correlated exposure %.2f + %.2f exceeds %.2f", corrExposure, positionValue, corrBudget),
			map[string]float64{
				"correlated_exposure": corrExposure,
				"position_value":      positionValue,
				"budget":              corrBudget,
			})
	}

	dailyBudget := m.limits.MaxDailyLossPct / 100 * m.balance
	if loss := m.periodLossLocked(24 * time.Hour); loss >= dailyBudget {
		return blocked(LimitDailyLoss,
			fmt.Sprintf("realized 24h loss %.2f at or over %.2f", loss, dailyBudget),
			map[string]float64{"daily_loss": loss, "budget": dailyBudget})
	}

	weeklyBudget := m.limits.MaxWeeklyLossPct / 100 * m.balance
	if loss := m.periodLossLocked(168 * time.Hour); loss >= weeklyBudget {
		return blocked(LimitWeeklyLoss,
			fmt.Sprintf("realized 7d loss %.2f at or over %.2f", loss, weeklyBudget),
			map[string]float64{"weekly_loss": loss, "budget": weeklyBudget})
	}

	concentrationBudget := m.limits.MaxPositionConcentrationPct / 100 * m.balance
	if positionValue > concentrationBudget {
		return blocked(LimitPositionConcentration,
			fmt.Sprintf("position value %.2f exceeds %.2f", positionValue, concentrationBudget),
			map[string]float64{"position_value": positionValue, "budget": concentrationBudget})
	}

	return Check{Allowed: true}
}

func (m *Manager) assetExposureLocked(symbol string) float64 {
	base := baseAsset(symbol)
	var sum float64
	for _, p := range m.positions {
		if baseAsset(p.Symbol) == base {
			sum += p.Notional
		}
	}
	return sum
}

func (m *Manager) correlatedExposureLocked(symbol string) float64 {
	useMatrix := len(m.corr) > 0
	base := baseAsset(symbol)
	var sum float64
	for _, p := range m.positions {
		if p.Symbol == symbol {
			sum += p.Notional
			continue
		}
		if useMatrix {
			if c, ok := m.corr.At(symbol, p.Symbol); ok && c > m.limits.CorrelationThreshold {
				sum += p.Notional
			}
			continue
		}
		if g := groupOf(base); g >= 0 && g == groupOf(baseAsset(p.Symbol)) {
			sum += p.Notional
		}
	}
	return sum
}

// UpdateCorrelation recomputes the pairwise matrix from per-symbol price
// series and swaps it in atomically. The heavy math runs outside the lock.
func (m *Manager) UpdateCorrelation(prices map[string][]float64) {
	matrix := computeMatrix(prices)
	m.mu.Lock()
	m.corr = matrix
	m.mu.Unlock()
}

// Correlation reads one pair from the current matrix.
func (m *Manager) Correlation(a, b string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.corr.At(a, b)
}

// Summary is the operational snapshot served by the CLI and HTTP layers.
type Summary struct {
	Balance        float64    `json:"balance"`
	InitialBalance float64    `json:"initial_balance"`
	OpenPositions  int        `json:"open_positions"`
	TotalExposure  float64    `json:"total_exposure"`
	DailyLoss      float64    `json:"daily_loss"`
	WeeklyLoss     float64    `json:"weekly_loss"`
	Positions      []Position `json:"positions,omitempty"`
}

// Snapshot reports the current portfolio state.
func (m *Manager) Snapshot() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		Balance:        m.balance,
		InitialBalance: m.initialBalance,
		OpenPositions:  len(m.positions),
		DailyLoss:      m.periodLossLocked(24 * time.Hour),
		WeeklyLoss:     m.periodLossLocked(168 * time.Hour),
	}
	for _, p := range m.positions {
		s.TotalExposure += p.Notional
		s.Positions = append(s.Positions, p)
	}
	sort.Slice(s.Positions, func(i, j int) bool { return s.Positions[i].Symbol < s.Positions[j].Symbol })
	return s
}

// baseAsset strips the quote from "BTC/USDT" style symbols.
func baseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return strings.ToUpper(symbol[:i])
	}
	return strings.ToUpper(symbol)
}

// staticGroups approximate correlation families when no matrix has been
// computed yet.
var staticGroups = [][]string{
	{"BTC", "WBTC", "ETH", "STETH"},
	{"SOL", "AVAX", "ADA", "DOT", "NEAR", "ATOM", "SUI", "APT", "TON"},
	{"UNI", "AAVE", "CRV", "MKR", "COMP", "SNX", "LDO"},
	{"DOGE", "SHIB", "PEPE", "WIF", "BONK", "FLOKI"},
	{"LINK", "BAND", "PYTH"},
	{"MATIC", "ARB", "OP", "STRK"},
}

func groupOf(base string) int {
	for i, group := range staticGroups {
		for _, member := range group {
			if member == base {
				return i
			}
		}
	}
	return -1
}
