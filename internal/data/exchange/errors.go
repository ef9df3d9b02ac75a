package exchange

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrRateLimited marks an HTTP 429 or venue-specific throttle response.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient marks a retryable network failure (timeout, 5xx, reset).
	ErrTransient = errors.New("transient network error")

	// ErrSymbolUnknown marks a symbol the venue does not list.
	ErrSymbolUnknown = errors.New("unknown symbol")
)

// Retryable reports whether the retry policy should absorb the error.
// Context cancellation is never retryable; the scan is being torn down.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) {
		return true
	}
	// Request deadlines surface as transient so they re-enter backoff.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
