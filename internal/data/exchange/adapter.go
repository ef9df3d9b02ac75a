// Package exchange defines the venue adapter contract the scanner consumes,
// the shared retry/rate-limit/circuit plumbing, and the bundled adapters
// (kraken REST, deterministic fake).
package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// Ticker is the latest quote snapshot for a symbol.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume24h float64   `json:"volume_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Adapter is the venue contract. Implementations must be safe for concurrent
// use; every blocking call takes a context.
type Adapter interface {
	Name() string
	FetchOHLCV(ctx context.Context, symbol string, tf ohlcv.Timeframe, limit int, since *time.Time) ([]ohlcv.Bar, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	ListTopSymbols(ctx context.Context, n int, quote string) ([]string, error)
	IsPerpetual(symbol string) bool
}

// TickerFeed is implemented by adapters that can push live ticker updates over
// a websocket. Optional; the pipeline falls back to REST polling without it.
type TickerFeed interface {
	SubscribeTickers(ctx context.Context, symbols []string, onTick func(Ticker)) error
}

// Registry holds the configured adapters keyed by venue name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registration order decides the default venue.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
}

// Get returns the adapter for a venue name. Empty name selects the first
// registered adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		if len(r.order) == 0 {
			return nil, fmt.Errorf("no exchange adapters registered")
		}
		return r.adapters[r.order[0]], nil
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("exchange %q not registered (have %v)", name, r.Names())
	}
	return a, nil
}

// Names lists registered venues, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
