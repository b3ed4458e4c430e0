package syncer

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/blackroad/statesync/internal/store"
)

// retryConfig bounds the backoff loop for transient backend failures.
type retryConfig struct {
	maxAttempts int
	baseBackoff time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 100 * time.Millisecond
)

// withRetry runs fn, retrying on store.ErrUnavailable with exponential
// backoff plus jitter up to cfg.maxAttempts total attempts. All other
// errors (including conflicts, NotFound, and persistent backend errors)
// return immediately - only transient unreachability is retried.
func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	attempts := cfg.maxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := cfg.baseBackoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		if attempt >= attempts {
			return err
		}

		// Full jitter: sleep a random duration up to the current backoff.
		sleep := time.Duration(rand.Int63n(int64(backoff)) + 1)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(sleep):
		}
		backoff *= 2
	}
}
