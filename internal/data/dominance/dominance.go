// Package dominance fetches BTC and stablecoin market dominance for the
// regime detector's risk-appetite read. CoinGecko is the primary source with
// CryptoCompare as fallback; the last good snapshot persists under the cache
// dir so a scan degrades gracefully when both sources are down.
package dominance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/data/exchange"
)

// Snapshot is one dominance reading. Percentages are 0..100; caps are USD.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	BTCDom          float64   `json:"btc_dom"`
	StableDom       float64   `json:"stable_dom"`
	AltDom          float64   `json:"alt_dom"`
	TotalMarketCap  float64   `json:"total_market_cap"`
	BTCMarketCap    float64   `json:"btc_market_cap"`
	StableMarketCap float64   `json:"stable_market_cap"`
	AltMarketCap    float64   `json:"alt_market_cap"`
}

// Valid reports whether the snapshot carries usable market data.
func (s Snapshot) Valid() bool {
	return s.TotalMarketCap > 0 && s.BTCDom > 0
}

// fromCaps derives the percentage and cap breakdown from the aggregate cap
// and the BTC/stable components.
func fromCaps(ts time.Time, total, btcCap, stableCap float64) Snapshot {
	altCap := total - btcCap - stableCap
	if altCap < 0 {
		altCap = 0
	}
	return Snapshot{
		Timestamp:       ts,
		BTCDom:          btcCap / total * 100,
		StableDom:       stableCap / total * 100,
		AltDom:          altCap / total * 100,
		TotalMarketCap:  total,
		BTCMarketCap:    btcCap,
		StableMarketCap: stableCap,
		AltMarketCap:    altCap,
	}
}

// Source is one upstream dominance API.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Snapshot, error)
}

// Config wires the provider. Keys are optional; both venues serve keyless
// requests at lower rate limits.
type Config struct {
	CoinGeckoKey     string
	CryptoCompareKey string
	CacheDir         string
	CacheTTL         time.Duration
}

// DefaultCacheTTL bounds how old a persisted snapshot may be and still serve
// as a fallback.
const DefaultCacheTTL = 24 * time.Hour

// Provider tries sources in order behind the shared retry policy and a
// per-source circuit breaker, persisting every good reading.
type Provider struct {
	sources  []Source
	retry    exchange.RetryPolicy
	breakers *exchange.BreakerSet
	store    *Store
	ttl      time.Duration
}

// New builds the provider with CoinGecko primary and CryptoCompare fallback.
func New(cfg Config) *Provider {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Provider{
		sources: []Source{
			newCoinGecko(cfg.CoinGeckoKey),
			newCryptoCompare(cfg.CryptoCompareKey),
		},
		retry:    exchange.DefaultRetryPolicy(),
		breakers: exchange.NewBreakerSet(nil, exchange.DefaultCircuitConfig()),
		store:    NewStore(cfg.CacheDir),
		ttl:      ttl,
	}
}

// Fetch returns the freshest dominance snapshot it can get: live from the
// first healthy source, else the persisted snapshot if younger than the TTL.
// Callers treat an error as "dominance unavailable" and degrade risk appetite
// rather than failing the scan.
func (p *Provider) Fetch(ctx context.Context) (Snapshot, error) {
	var errs []error
	for _, src := range p.sources {
		snap, err := p.fetchOne(ctx, src)
		if err != nil {
			log.Warn().Str("source", src.Name()).Err(err).Msg("dominance source failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		p.persist(snap)
		return snap, nil
	}

	if snap, ok := p.store.LoadCache(); ok && time.Since(snap.Timestamp) <= p.ttl {
		log.Warn().Time("as_of", snap.Timestamp).Msg("all dominance sources failed, serving persisted snapshot")
		return snap, nil
	}
	return Snapshot{}, fmt.Errorf("dominance unavailable: %w", errors.Join(errs...))
}

func (p *Provider) fetchOne(ctx context.Context, src Source) (Snapshot, error) {
	var snap Snapshot
	err := p.retry.Do(ctx, "dominance_"+src.Name(), func() error {
		out, err := p.breakers.Execute(src.Name(), func() (interface{}, error) {
			return src.Fetch(ctx)
		})
		if err != nil {
			return err
		}
		snap = out.(Snapshot)
		return nil
	})
	return snap, err
}

func (p *Provider) persist(snap Snapshot) {
	if err := p.store.SaveCache(snap); err != nil {
		log.Warn().Err(err).Msg("persist dominance cache")
	}
	if err := p.store.AppendHistory(snap); err != nil {
		log.Warn().Err(err).Msg("append dominance history")
	}
}

// History returns the persisted dominance series, oldest first.
func (p *Provider) History() ([]Snapshot, error) {
	return p.store.History()
}
