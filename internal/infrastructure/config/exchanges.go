package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smcscan/smcscan/internal/data/exchange"
)

// VenueSpec is one venue's section in exchanges.yaml. Empty fields keep the
// built-in endpoints and budgets.
type VenueSpec struct {
	BaseURL   string              `yaml:"base_url"`
	WSURL     string              `yaml:"ws_url"`
	RateLimit exchange.RateConfig `yaml:"rate_limit"`
	Circuit   CircuitSpec         `yaml:"circuit"`
}

// CircuitSpec mirrors exchange.CircuitConfig with duration strings.
type CircuitSpec struct {
	MaxRequests         uint32  `yaml:"max_requests"`
	Interval            string  `yaml:"interval"`
	Timeout             string  `yaml:"timeout"`
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold"`
	ConsecutiveFailures uint32  `yaml:"consecutive_failures"`
}

// ExchangesConfig is the exchanges.yaml venue table.
type ExchangesConfig struct {
	Venues map[string]VenueSpec `yaml:"venues"`
}

// DefaultExchanges carries the kraken public-API budget used when the file
// is absent.
func DefaultExchanges() ExchangesConfig {
	return ExchangesConfig{
		Venues: map[string]VenueSpec{
			"kraken": {RateLimit: exchange.RateConfig{RPS: 1, Burst: 2}},
		},
	}
}

// Venue returns the named venue's spec, zero when unlisted.
func (c ExchangesConfig) Venue(name string) VenueSpec {
	return c.Venues[name]
}

// RateLimits returns the limiter table for venues that set a budget.
func (c ExchangesConfig) RateLimits() map[string]exchange.RateConfig {
	out := make(map[string]exchange.RateConfig, len(c.Venues))
	for name, v := range c.Venues {
		if v.RateLimit.RPS > 0 {
			out[name] = v.RateLimit
		}
	}
	return out
}

// Circuits returns per-venue breaker overrides. Venues without a circuit
// section fall back to the breaker set's default profile.
func (c ExchangesConfig) Circuits() (map[string]exchange.CircuitConfig, error) {
	out := make(map[string]exchange.CircuitConfig, len(c.Venues))
	for name, v := range c.Venues {
		if v.Circuit == (CircuitSpec{}) {
			continue
		}
		cc, err := v.Circuit.build(name)
		if err != nil {
			return nil, err
		}
		out[name] = cc
	}
	return out, nil
}

func (s CircuitSpec) build(venue string) (exchange.CircuitConfig, error) {
	cfg := exchange.DefaultCircuitConfig()
	if s.MaxRequests > 0 {
		cfg.MaxRequests = s.MaxRequests
	}
	if s.Interval != "" {
		d, err := time.ParseDuration(s.Interval)
		if err != nil {
			return cfg, fmt.Errorf("exchanges config: %s circuit interval %q: %w", venue, s.Interval, err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("exchanges config: %s circuit interval must be positive", venue)
		}
		cfg.Interval = d
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return cfg, fmt.Errorf("exchanges config: %s circuit timeout %q: %w", venue, s.Timeout, err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("exchanges config: %s circuit timeout must be positive", venue)
		}
		cfg.Timeout = d
	}
	if s.ErrorRateThreshold > 0 {
		cfg.ErrorRateThreshold = s.ErrorRateThreshold
	}
	if s.ConsecutiveFailures > 0 {
		cfg.ConsecutiveFailures = s.ConsecutiveFailures
	}
	return cfg, nil
}

func (c ExchangesConfig) validate() error {
	for name, v := range c.Venues {
		if v.RateLimit.RPS < 0 {
			return fmt.Errorf("exchanges config: %s requests_per_second must not be negative", name)
		}
		if v.RateLimit.Burst < 0 {
			return fmt.Errorf("exchanges config: %s burst must not be negative", name)
		}
	}
	_, err := c.Circuits()
	return err
}

// LoadExchanges reads exchanges.yaml. Venues not listed keep the limiter
// and breaker fallbacks.
func LoadExchanges(path string) (ExchangesConfig, error) {
	var c ExchangesConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read exchanges config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse exchanges config: %w", err)
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}
