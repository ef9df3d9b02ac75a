package exchange

import (
	"context"
	"time"

	"github.com/smcscan/smcscan/internal/domain/ohlcv"
)

// ResilientAdapter decorates a venue adapter with the shared retry policy,
// the per-venue rate limiter, and the circuit breaker. The pipeline only ever
// talks to wrapped adapters.
type ResilientAdapter struct {
	inner    Adapter
	retry    RetryPolicy
	limiter  *VenueLimiter
	breakers *BreakerSet
}

// WrapResilient builds the decorated adapter. Nil limiter or breakers disable
// that layer (used by tests that target retry behavior alone).
func WrapResilient(inner Adapter, retry RetryPolicy, limiter *VenueLimiter, breakers *BreakerSet) *ResilientAdapter {
	return &ResilientAdapter{inner: inner, retry: retry, limiter: limiter, breakers: breakers}
}

func (r *ResilientAdapter) Name() string { return r.inner.Name() }

// Unwrap exposes the inner adapter, e.g. for TickerFeed capability checks.
func (r *ResilientAdapter) Unwrap() Adapter { return r.inner }

func (r *ResilientAdapter) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.retry.Do(ctx, op, func() error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, r.inner.Name()); err != nil {
				return err
			}
		}
		var innerErr error
		if r.breakers != nil {
			result, innerErr = r.breakers.Execute(r.inner.Name(), fn)
		} else {
			result, innerErr = fn()
		}
		return innerErr
	})
	return result, err
}

func (r *ResilientAdapter) FetchOHLCV(ctx context.Context, symbol string, tf ohlcv.Timeframe, limit int, since *time.Time) ([]ohlcv.Bar, error) {
	result, err := r.call(ctx, "fetch_ohlcv", func() (interface{}, error) {
		return r.inner.FetchOHLCV(ctx, symbol, tf, limit, since)
	})
	if err != nil {
		return nil, err
	}
	return result.([]ohlcv.Bar), nil
}

func (r *ResilientAdapter) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	result, err := r.call(ctx, "fetch_ticker", func() (interface{}, error) {
		return r.inner.FetchTicker(ctx, symbol)
	})
	if err != nil {
		return Ticker{}, err
	}
	return result.(Ticker), nil
}

func (r *ResilientAdapter) ListTopSymbols(ctx context.Context, n int, quote string) ([]string, error) {
	result, err := r.call(ctx, "list_top_symbols", func() (interface{}, error) {
		return r.inner.ListTopSymbols(ctx, n, quote)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (r *ResilientAdapter) IsPerpetual(symbol string) bool {
	return r.inner.IsPerpetual(symbol)
}
