package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// ingest assembles the multi-timeframe bundle for one symbol, cache
// first and venue second. Lesser timeframes degrade with a warning; a
// missing primary higher timeframe fails the symbol.
func (r *Runner) ingest(ctx context.Context, symbol string) (*ohlcv.Bundle, error) {
	bundle := ohlcv.NewBundle(symbol)
	for _, tf := range r.cfg.Timeframes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := r.timeframeBars(ctx, symbol, tf)
		if err == nil {
			err = bundle.Put(tf, bars, minBarsPerTF)
		}
		if err != nil {
			if tf == r.cfg.PrimaryHTF {
				return nil, fmt.Errorf("primary timeframe %s: %w", tf, err)
			}
			log.Warn().Str("symbol", symbol).Str("tf", tf.String()).Err(err).
				Msg("timeframe unavailable, factors degrade")
		}
	}
	return bundle, nil
}

// timeframeBars returns cleaned candles for one timeframe, serving from
// the OHLCV cache when the entry is still inside its bar-aligned TTL.
func (r *Runner) timeframeBars(ctx context.Context, symbol string, tf ohlcv.Timeframe) ([]ohlcv.Bar, error) {
	key := cache.OHLCVKey(symbol, tf)
	if v, ok := r.caches.OHLCV().Get(key); ok {
		if bars, ok := v.([]ohlcv.Bar); ok {
			r.metrics.RecordCacheHit(cache.NSOHLCV)
			return bars, nil
		}
	}
	r.metrics.RecordCacheMiss(cache.NSOHLCV)

	started := time.Now()
	raw, err := r.adapter.FetchOHLCV(ctx, symbol, tf, r.cfg.Bars, nil)
	r.metrics.ObserveVenueRequest(r.adapter.Name(), "ohlcv", time.Since(started))
	if err != nil {
		return nil, err
	}

	bars, dropped := ohlcv.Clean(raw)
	if dropped > 0 {
		log.Debug().Str("symbol", symbol).Str("tf", tf.String()).Int("dropped", dropped).
			Msg("dropped malformed candles")
	}
	if len(bars) < minBarsPerTF {
		return nil, fmt.Errorf("%w: %d of %d bars survived cleaning", ohlcv.ErrInsufficientData, len(bars), len(raw))
	}
	r.caches.OHLCV().SetTTL(key, bars, cache.OHLCVTTL(tf))
	return bars, nil
}
