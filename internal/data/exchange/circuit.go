package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CircuitConfig tunes one venue's breaker.
type CircuitConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"-"`
	Timeout             time.Duration `yaml:"-"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// DefaultCircuitConfig matches the conservative public-API profile.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		MaxRequests:         2,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50,
		ConsecutiveFailures: 5,
	}
}

// BreakerSet holds one gobreaker per venue. A tripped breaker converts venue
// calls into immediate ErrTransient failures, which the retry policy and the
// pipeline's rejection accounting already know how to handle.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]CircuitConfig
	fallback CircuitConfig
}

// NewBreakerSet builds breakers lazily from per-venue configs.
func NewBreakerSet(configs map[string]CircuitConfig, fallback CircuitConfig) *BreakerSet {
	if configs == nil {
		configs = make(map[string]CircuitConfig)
	}
	if fallback.ConsecutiveFailures == 0 {
		fallback = DefaultCircuitConfig()
	}
	return &BreakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  configs,
		fallback: fallback,
	}
}

func (s *BreakerSet) breaker(venue string) *gobreaker.CircuitBreaker {
	s.mu.RLock()
	cb, ok := s.breakers[venue]
	s.mu.RUnlock()
	if ok {
		return cb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[venue]; ok {
		return cb
	}
	cfg, ok := s.configs[venue]
	if !ok {
		cfg = s.fallback
	}
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venue,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests >= 10 {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				return errorRate >= cfg.ErrorRateThreshold
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("venue", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	s.breakers[venue] = cb
	return cb
}

// Execute runs fn through the venue's breaker. An open breaker returns
// ErrTransient so callers treat the venue as temporarily unavailable.
func (s *BreakerSet) Execute(venue string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.breaker(venue).Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: circuit open for %s", ErrTransient, venue)
	}
	return result, err
}

// State returns the breaker state string for a venue ("closed", "half-open",
// "open").
func (s *BreakerSet) State(venue string) string {
	return s.breaker(venue).State().String()
}
