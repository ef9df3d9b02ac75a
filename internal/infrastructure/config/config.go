package config

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// File names LoadAll expects under the config directory.
const (
	AppFile       = "app.yaml"
	ModesFile     = "modes.yaml"
	RiskFile      = "risk.yaml"
	CyclesFile    = "cycles.yaml"
	CacheFile     = "cache.yaml"
	ExchangesFile = "exchanges.yaml"
	SchedulerFile = "scheduler.yaml"
)

// Config is the assembled runtime configuration.
type Config struct {
	Env       Env
	App       AppConfig
	Modes     ModesConfig
	Risk      RiskConfig
	Cycles    CyclesConfig
	Cache     CacheConfig
	Exchanges ExchangesConfig
	Scheduler SchedulerConfig
}

// LoadAll reads every config file under dir. Missing files keep their
// defaults; parse and validation failures abort the load. Environment
// values override their YAML counterparts last.
func LoadAll(dir string, env Env) (*Config, error) {
	cfg := &Config{
		Env:       env,
		App:       DefaultApp(),
		Modes:     DefaultModes(),
		Risk:      DefaultRisk(),
		Cycles:    DefaultCycles(),
		Exchanges: DefaultExchanges(),
	}

	if c, err := LoadApp(filepath.Join(dir, AppFile)); err == nil {
		cfg.App = c
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if c, err := LoadModes(filepath.Join(dir, ModesFile)); err == nil {
		cfg.Modes = c
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if c, err := LoadRisk(filepath.Join(dir, RiskFile)); err == nil {
		cfg.Risk = c
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if c, err := LoadCycles(filepath.Join(dir, CyclesFile)); err == nil {
		cfg.Cycles = c
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if c, err := LoadCache(filepath.Join(dir, CacheFile)); err == nil {
		cfg.Cache = c
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if c, err := LoadExchanges(filepath.Join(dir, ExchangesFile)); err == nil {
		cfg.Exchanges = c
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if c, err := LoadScheduler(filepath.Join(dir, SchedulerFile)); err == nil {
		cfg.Scheduler = c
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if env.Exchange != "" {
		cfg.App.Exchange = env.Exchange
	}
	if env.MaxWorkers > 0 {
		cfg.App.Workers = env.MaxWorkers
	}
	if env.RedisAddr != "" {
		cfg.Cache.RedisAddr = env.RedisAddr
	}
	return cfg, nil
}
