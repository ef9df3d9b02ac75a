package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smcscan/smcscan/internal/data/cache"
)

// CacheNamespace mirrors one cache namespace with a duration-string TTL.
// Empty fields keep the built-in defaults.
type CacheNamespace struct {
	TTL string `yaml:"ttl"`
	Max int    `yaml:"max_entries"`
}

// CacheConfig is the cache.yaml retention table.
type CacheConfig struct {
	Price     CacheNamespace `yaml:"price"`
	Regime    CacheNamespace `yaml:"regime"`
	Cycles    CacheNamespace `yaml:"cycles"`
	OHLCV     CacheNamespace `yaml:"ohlcv"`
	Generic   CacheNamespace `yaml:"generic"`
	RedisAddr string         `yaml:"redis_addr"`
}

func (n CacheNamespace) resolve(name string) (cache.NamespaceConfig, error) {
	out := cache.NamespaceConfig{Max: n.Max}
	if n.TTL == "" {
		return out, nil
	}
	d, err := time.ParseDuration(n.TTL)
	if err != nil {
		return out, fmt.Errorf("cache config: %s ttl %q: %w", name, n.TTL, err)
	}
	if d <= 0 {
		return out, fmt.Errorf("cache config: %s ttl must be positive", name)
	}
	out.TTL = d
	return out, nil
}

// Build converts the duration strings into a cache.Config. Namespaces left
// empty fall back to the cache package defaults.
func (c CacheConfig) Build() (cache.Config, error) {
	var (
		out cache.Config
		err error
	)
	if out.Price, err = c.Price.resolve("price"); err != nil {
		return out, err
	}
	if out.Regime, err = c.Regime.resolve("regime"); err != nil {
		return out, err
	}
	if out.Cycles, err = c.Cycles.resolve("cycles"); err != nil {
		return out, err
	}
	if out.OHLCV, err = c.OHLCV.resolve("ohlcv"); err != nil {
		return out, err
	}
	if out.Generic, err = c.Generic.resolve("generic"); err != nil {
		return out, err
	}
	out.RedisAddr = c.RedisAddr
	return out, nil
}

// LoadCache reads cache.yaml. A partial file only overrides the namespaces
// it names.
func LoadCache(path string) (CacheConfig, error) {
	var c CacheConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read cache config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse cache config: %w", err)
	}
	if _, err := c.Build(); err != nil {
		return c, err
	}
	return c, nil
}
