package internal

import (
	"context"
	"fmt"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff
// (100ms, 200ms, 400ms, ...). Returns the last error if all attempts fail,
// or ctx.Err() if the context is cancelled during backoff.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(100*(1<<i)) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// RetryResult is like Retry but for functions that return a value.
func RetryResult[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < maxAttempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(100*(1<<i)) * time.Millisecond):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, err
}

// WaitUntil polls fn every interval until it reports done, it returns an
// error, the timeout elapses, or the context is cancelled. fn is called
// once immediately before the first wait.
func WaitUntil(ctx context.Context, interval, timeout time.Duration, fn func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", timeout)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
