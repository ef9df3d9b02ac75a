package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the scanner-wide profile from app.yaml.
type AppConfig struct {
	Exchange     string  `yaml:"exchange"`
	Quote        string  `yaml:"quote"`
	Universe     int     `yaml:"universe"`
	Mode         string  `yaml:"mode"`
	Balance      float64 `yaml:"balance"`
	Workers      int     `yaml:"workers"`
	Bars         int     `yaml:"bars"`
	MarketSymbol string  `yaml:"market_symbol"`
	RiskPct      float64 `yaml:"risk_pct"`
	Leverage     float64 `yaml:"leverage"`
	Deadline     string  `yaml:"deadline"`
	ArtifactsDir string  `yaml:"artifacts_dir"`
	KeepScans    int     `yaml:"keep_scans"`
}

// DefaultApp mirrors the pipeline's own defaults so a missing app.yaml
// changes nothing.
func DefaultApp() AppConfig {
	return AppConfig{
		Exchange:     "kraken",
		Quote:        "USDT",
		Universe:     10,
		Mode:         "stealth_balanced",
		Balance:      10_000,
		Workers:      4,
		Bars:         150,
		MarketSymbol: "BTC/USDT",
		RiskPct:      1,
		Leverage:     1,
		Deadline:     "10m",
		ArtifactsDir: "./artifacts",
		KeepScans:    100,
	}
}

// DeadlineDuration parses the per-scan deadline. Empty means none.
func (c AppConfig) DeadlineDuration() (time.Duration, error) {
	if c.Deadline == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Deadline)
	if err != nil {
		return 0, fmt.Errorf("app config: deadline %q: %w", c.Deadline, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("app config: deadline %q is negative", c.Deadline)
	}
	return d, nil
}

// Validate rejects values the scanner cannot run with.
func (c AppConfig) Validate() error {
	if c.Balance <= 0 {
		return fmt.Errorf("app config: balance must be positive, got %.2f", c.Balance)
	}
	if c.Universe <= 0 {
		return fmt.Errorf("app config: universe must be positive, got %d", c.Universe)
	}
	if _, err := c.DeadlineDuration(); err != nil {
		return err
	}
	return nil
}

// LoadApp reads app.yaml over the defaults.
func LoadApp(path string) (AppConfig, error) {
	c := DefaultApp()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read app config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse app config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
