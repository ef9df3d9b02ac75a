package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Namespace names.
const (
	NSPrice   = "price"
	NSRegime  = "regime"
	NSCycles  = "cycles"
	NSOHLCV   = "ohlcv"
	NSGeneric = "generic"
)

// closedBarBuffer pads OHLCV TTLs past the bar close so a cached series is
// always for a closed bar.
const closedBarBuffer = 5 * time.Second

// NamespaceConfig overrides one namespace's retention. Zero fields keep the
// built-in defaults.
type NamespaceConfig struct {
	TTL time.Duration
	Max int
}

// Config tunes the manager. Zero values fall back to the defaults below.
type Config struct {
	Price     NamespaceConfig
	Regime    NamespaceConfig
	Cycles    NamespaceConfig
	OHLCV     NamespaceConfig
	Generic   NamespaceConfig
	RedisAddr string
}

// DefaultConfig returns the standard retention table.
func DefaultConfig() Config {
	return Config{
		Price:   NamespaceConfig{TTL: 5 * time.Second, Max: 1000},
		Regime:  NamespaceConfig{TTL: 60 * time.Second, Max: 50},
		Cycles:  NamespaceConfig{TTL: 300 * time.Second, Max: 100},
		OHLCV:   NamespaceConfig{TTL: time.Minute + closedBarBuffer, Max: 500},
		Generic: NamespaceConfig{TTL: 60 * time.Second, Max: 500},
	}
}

func (nc NamespaceConfig) withDefaults(def NamespaceConfig) NamespaceConfig {
	if nc.TTL <= 0 {
		nc.TTL = def.TTL
	}
	if nc.Max <= 0 {
		nc.Max = def.Max
	}
	return nc
}

// Manager owns the five namespaces and the optional remote mirror.
type Manager struct {
	price   *TTLCache
	regime  *TTLCache
	cycles  *TTLCache
	ohlcv   *TTLCache
	generic *TTLCache
	remote  Remote
}

// NewManager builds a manager from cfg. When cfg.RedisAddr is set, byte
// payloads are mirrored to Redis.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	p := cfg.Price.withDefaults(def.Price)
	r := cfg.Regime.withDefaults(def.Regime)
	cy := cfg.Cycles.withDefaults(def.Cycles)
	o := cfg.OHLCV.withDefaults(def.OHLCV)
	g := cfg.Generic.withDefaults(def.Generic)

	m := &Manager{
		price:   newTTLCache(NSPrice, p.TTL, p.Max),
		regime:  newTTLCache(NSRegime, r.TTL, r.Max),
		cycles:  newTTLCache(NSCycles, cy.TTL, cy.Max),
		ohlcv:   newTTLCache(NSOHLCV, o.TTL, o.Max),
		generic: newTTLCache(NSGeneric, g.TTL, g.Max),
	}
	if cfg.RedisAddr != "" {
		m.remote = NewRedisRemote(cfg.RedisAddr)
	}
	return m
}

// Price is the latest-ticker namespace.
func (m *Manager) Price() *TTLCache { return m.price }

// Regime holds global and per-symbol regimes.
func (m *Manager) Regime() *TTLCache { return m.regime }

// Cycles holds per-symbol cycle contexts.
func (m *Manager) Cycles() *TTLCache { return m.cycles }

// OHLCV holds closed-bar series keyed by symbol and timeframe.
func (m *Manager) OHLCV() *TTLCache { return m.ohlcv }

// Generic is the fallback namespace.
func (m *Manager) Generic() *TTLCache { return m.generic }

// Namespace looks a namespace up by name.
func (m *Manager) Namespace(name string) (*TTLCache, bool) {
	switch name {
	case NSPrice:
		return m.price, true
	case NSRegime:
		return m.regime, true
	case NSCycles:
		return m.cycles, true
	case NSOHLCV:
		return m.ohlcv, true
	case NSGeneric:
		return m.generic, true
	default:
		return nil, false
	}
}

// Stats snapshots every namespace in a fixed order.
func (m *Manager) Stats() []Stats {
	return []Stats{
		m.price.Stats(),
		m.regime.Stats(),
		m.cycles.Stats(),
		m.ohlcv.Stats(),
		m.generic.Stats(),
	}
}

// Stop ends the sweepers and closes the remote connection.
func (m *Manager) Stop() {
	m.price.Stop()
	m.regime.Stop()
	m.cycles.Stop()
	m.ohlcv.Stop()
	m.generic.Stop()
	if m.remote != nil {
		_ = m.remote.Close()
	}
}

// SetBytes stores a byte payload locally and mirrors it to the remote store
// when one is configured.
func (m *Manager) SetBytes(ns *TTLCache, key string, val []byte, ttl time.Duration) {
	ns.SetTTL(key, val, ttl)
	if m.remote != nil {
		if ttl <= 0 {
			ttl = ns.DefaultTTL()
		}
		m.remote.SetBytes(key, val, ttl)
	}
}

// GetBytes reads a byte payload, falling back to the remote store on a
// local miss and repopulating the namespace on a remote hit.
func (m *Manager) GetBytes(ns *TTLCache, key string, ttl time.Duration) ([]byte, bool) {
	if v, ok := ns.Get(key); ok {
		if b, isBytes := v.([]byte); isBytes {
			return b, true
		}
	}
	if m.remote == nil {
		return nil, false
	}
	b, ok := m.remote.GetBytes(key)
	if !ok {
		return nil, false
	}
	ns.SetTTL(key, b, ttl)
	return b, true
}

// OHLCVTTL returns the retention for one timeframe's series: the bar
// duration plus a small buffer past the close.
func OHLCVTTL(tf ohlcv.Timeframe) time.Duration {
	return tf.Duration() + closedBarBuffer
}

// PriceKey builds the ticker key for a symbol.
func PriceKey(symbol string) string { return "price:" + symbol }

// OHLCVKey builds the series key for a symbol and timeframe.
func OHLCVKey(symbol string, tf ohlcv.Timeframe) string {
	return fmt.Sprintf("ohlcv:%s:%s", symbol, tf)
}

// RegimeGlobalKey is the market-wide regime entry.
const RegimeGlobalKey = "regime:global"

// RegimeKey builds the per-symbol regime key.
func RegimeKey(symbol string) string { return "regime:" + symbol }

// CycleKey builds the per-symbol cycle context key.
func CycleKey(symbol string) string { return "cycles:" + symbol }

var (
	instMu   sync.Mutex
	instance atomic.Pointer[Manager]
)

// Instance returns the process-wide manager, building one with defaults on
// first access. Concurrent first calls resolve to a single instance.
func Instance() *Manager {
	if m := instance.Load(); m != nil {
		return m
	}
	instMu.Lock()
	defer instMu.Unlock()
	if m := instance.Load(); m != nil {
		return m
	}
	m := NewManager(DefaultConfig())
	instance.Store(m)
	return m
}

// Init installs a manager built from cfg as the singleton, stopping any
// previous one.
func Init(cfg Config) *Manager {
	instMu.Lock()
	defer instMu.Unlock()
	if old := instance.Load(); old != nil {
		old.Stop()
	}
	m := NewManager(cfg)
	instance.Store(m)
	return m
}

// Teardown stops the singleton and clears it so the next Instance call
// builds a fresh one.
func Teardown() {
	instMu.Lock()
	defer instMu.Unlock()
	if old := instance.Load(); old != nil {
		old.Stop()
		instance.Store(nil)
	}
}
