package exchange

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy retries rate-limited and transient failures with exponential
// backoff plus uniform jitter. Jitter is mandatory: without it, concurrent
// scan workers hitting the same venue retry in lockstep.
type RetryPolicy struct {
	MaxRetries  int           // attempts after the first call (default 3)
	BaseBackoff time.Duration // first backoff (default 500ms)
	MaxBackoff  time.Duration // backoff ceiling (default 30s)
	JitterPct   float64       // jitter range as fraction of current backoff
}

// DefaultRetryPolicy mirrors the venue defaults used across the scanner.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		JitterPct:   0.5,
	}
}

// Do runs fn, retrying retryable failures up to MaxRetries times. The final
// failure is returned unchanged so callers can classify it. Non-retryable
// errors return immediately.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	backoff := p.BaseBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= p.MaxRetries {
			return err
		}

		wait := backoff
		if p.JitterPct > 0 {
			wait += time.Duration(rand.Float64() * p.JitterPct * float64(backoff))
		}
		log.Debug().Str("op", op).Int("attempt", attempt+1).
			Dur("backoff", wait).Err(err).Msg("retrying after transient failure")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
