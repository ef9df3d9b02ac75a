// Package config loads the scanner's YAML files and environment. Each
// file has its own loader so callers pull in only what they run;
// LoadAll assembles the full set with defaults for missing files.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Env is the process environment the scanner reads. Fields with YAML
// counterparts (Exchange, MaxWorkers, RedisAddr, HTTPPort) stay zero when
// their variable is unset so loaders can tell explicit values from absence;
// env-only knobs carry their defaults directly.
type Env struct {
	Exchange         string
	CacheDir         string
	CoinGeckoKey     string
	CryptoCompareKey string
	MaxWorkers       int
	LogLevel         string
	HTTPPort         int
	RedisAddr        string
	DatabaseURL      string
}

// LoadDotEnv loads a .env file when present. A missing file is not an
// error; a malformed one logs and is skipped.
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not load env file")
	}
}

// ReadEnv snapshots the environment variables the scanner honors.
func ReadEnv() Env {
	return Env{
		Exchange:         os.Getenv("EXCHANGE"),
		CacheDir:         envOr("CACHE_DIR", "./cache"),
		CoinGeckoKey:     os.Getenv("COINGECKO_API_KEY"),
		CryptoCompareKey: os.Getenv("CRYPTOCOMPARE_API_KEY"),
		MaxWorkers:       envInt("MAX_WORKERS", 0),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		HTTPPort:         envInt("HTTP_PORT", 0),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-positive env integer")
		return def
	}
	return n
}
