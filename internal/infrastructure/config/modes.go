package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/domain/score"
)

// ModeProfile overrides one scanner mode. Absent fields keep the
// built-in tables.
type ModeProfile struct {
	MinConfluenceScore float64                `yaml:"min_confluence_score"`
	Weights            map[string]float64     `yaml:"weights"`
	RegimeThresholds   *regime.ModeThresholds `yaml:"regime_thresholds"`
}

// ModesConfig is the modes.yaml file: per-mode scoring overrides.
type ModesConfig struct {
	Default string                 `yaml:"default"`
	Modes   map[string]ModeProfile `yaml:"modes"`
}

// DefaultModes returns no overrides; the built-in profiles apply.
func DefaultModes() ModesConfig {
	return ModesConfig{Default: regime.ModeStealthBalanced}
}

// Profile returns the override table for a mode, if any.
func (c ModesConfig) Profile(mode string) (ModeProfile, bool) {
	p, ok := c.Modes[mode]
	return p, ok
}

// Validate builds a scorer from every override so a bad weight table
// fails at startup rather than mid-scan.
func (c ModesConfig) Validate() error {
	for mode, p := range c.Modes {
		if p.MinConfluenceScore < 0 || p.MinConfluenceScore > 100 {
			return fmt.Errorf("modes config: %s min_confluence_score %.2f outside [0,100]", mode, p.MinConfluenceScore)
		}
		if p.Weights != nil {
			if _, err := score.NewWithWeights(mode, p.Weights, score.DefaultSynergy()); err != nil {
				return fmt.Errorf("modes config: %w", err)
			}
		}
		if thr := p.RegimeThresholds; thr != nil {
			if thr.MinTrendADX <= 0 || thr.StrongTrendADX <= thr.MinTrendADX {
				return fmt.Errorf("modes config: %s regime thresholds need 0 < min_trend_adx < strong_trend_adx", mode)
			}
		}
	}
	return nil
}

// LoadModes reads modes.yaml. The file only carries overrides, so an
// empty file is valid.
func LoadModes(path string) (ModesConfig, error) {
	c := DefaultModes()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read modes config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse modes config: %w", err)
	}
	if c.Default == "" {
		c.Default = regime.ModeStealthBalanced
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
