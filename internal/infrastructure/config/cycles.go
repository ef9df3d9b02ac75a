package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smcscan/smcscan/internal/domain/cycle"
)

const dateLayout = "2006-01-02"

// CyclesConfig is the cycles.yaml file: the dated anchors of the
// four-year cycle.
type CyclesConfig struct {
	Lows    []string `yaml:"lows"`
	NextLow string   `yaml:"next_low"`
}

// DefaultCycles carries the accepted historical cycle lows and the
// projected next one.
func DefaultCycles() CyclesConfig {
	return CyclesConfig{
		Lows:    []string{"2015-01-14", "2018-12-15", "2022-11-21"},
		NextLow: "2026-10-17",
	}
}

// FourYear resolves the configured dates into a cycle position at now.
func (c CyclesConfig) FourYear(now time.Time) (cycle.FourYear, error) {
	lows := make([]time.Time, 0, len(c.Lows))
	for _, s := range c.Lows {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return cycle.FourYear{}, fmt.Errorf("cycles config: low %q: %w", s, err)
		}
		lows = append(lows, t)
	}
	next, err := time.Parse(dateLayout, c.NextLow)
	if err != nil {
		return cycle.FourYear{}, fmt.Errorf("cycles config: next_low %q: %w", c.NextLow, err)
	}
	fy, err := cycle.FourYearAt(now, lows, next)
	if err != nil {
		return cycle.FourYear{}, fmt.Errorf("cycles config: %w", err)
	}
	return fy, nil
}

// LoadCycles reads cycles.yaml over the defaults and resolves it once to
// catch bad dates at startup.
func LoadCycles(path string) (CyclesConfig, error) {
	c := DefaultCycles()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read cycles config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse cycles config: %w", err)
	}
	if _, err := c.FourYear(time.Now().UTC()); err != nil {
		return c, err
	}
	return c, nil
}
