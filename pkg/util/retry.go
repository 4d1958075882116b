package util

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times with linear backoff (step, 2*step, ...).
// It stops early when ctx ends or when retryable reports false for an error.
// A nil retryable retries every error.
func Retry(ctx context.Context, attempts int, step time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts || (retryable != nil && !retryable(err)) {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * step):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
