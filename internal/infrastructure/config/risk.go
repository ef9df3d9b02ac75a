package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smcscan/smcscan/internal/risk"
)

// RiskConfig is the risk.yaml file: portfolio limits and sizing.
type RiskConfig struct {
	Balance float64          `yaml:"balance"`
	Limits  risk.Limits      `yaml:"limits"`
	Sizer   risk.SizerConfig `yaml:"sizer"`
}

// DefaultRisk matches the conservative built-in profile.
func DefaultRisk() RiskConfig {
	return RiskConfig{
		Balance: 10_000,
		Limits:  risk.DefaultLimits(),
		Sizer:   risk.DefaultSizerConfig(),
	}
}

// Validate rejects configurations the risk manager would refuse.
func (c RiskConfig) Validate() error {
	if c.Balance <= 0 {
		return fmt.Errorf("risk config: balance must be positive, got %.2f", c.Balance)
	}
	if c.Limits.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk config: max_open_positions must be positive, got %d", c.Limits.MaxOpenPositions)
	}
	return nil
}

// LoadRisk reads risk.yaml over the defaults.
func LoadRisk(path string) (RiskConfig, error) {
	c := DefaultRisk()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read risk config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse risk config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
