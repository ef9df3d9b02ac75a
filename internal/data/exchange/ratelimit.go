package exchange

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// VenueLimiter applies token-bucket rate limits per venue. Buckets are
// created on first use so unconfigured venues fall back to the default rate.
type VenueLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*rate.Limiter
	configs  map[string]RateConfig
	fallback RateConfig
}

// RateConfig is one venue's request budget.
type RateConfig struct {
	RPS   float64 `yaml:"requests_per_second"`
	Burst int     `yaml:"burst"`
}

// NewVenueLimiter builds a limiter with per-venue overrides and a fallback
// applied to venues not present in configs.
func NewVenueLimiter(configs map[string]RateConfig, fallback RateConfig) *VenueLimiter {
	if fallback.RPS <= 0 {
		fallback = RateConfig{RPS: 1, Burst: 1}
	}
	if configs == nil {
		configs = make(map[string]RateConfig)
	}
	return &VenueLimiter{
		buckets:  make(map[string]*rate.Limiter),
		configs:  configs,
		fallback: fallback,
	}
}

func (l *VenueLimiter) bucket(venue string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[venue]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after taking the write lock.
	if b, ok := l.buckets[venue]; ok {
		return b
	}
	cfg, ok := l.configs[venue]
	if !ok || cfg.RPS <= 0 {
		cfg = l.fallback
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	b = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	l.buckets[venue] = b
	return b
}

// Wait blocks until the venue's bucket grants a token or ctx is done.
func (l *VenueLimiter) Wait(ctx context.Context, venue string) error {
	return l.bucket(venue).Wait(ctx)
}

// Allow reports whether a request may proceed right now without waiting.
func (l *VenueLimiter) Allow(venue string) bool {
	return l.bucket(venue).Allow()
}

// Tokens returns the venue bucket's currently available tokens.
func (l *VenueLimiter) Tokens(venue string) float64 {
	return l.bucket(venue).Tokens()
}
