package dbretry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Policy describes how many times an operation is attempted and which errors are retried.
type Policy struct {
	// MaxAttempts includes the first attempt. Zero is treated as one.
	MaxAttempts uint64
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Retryable reports whether an error is worth another attempt.
	Retryable func(error) bool
}

// IsTransient reports whether err is a transient I/O or server availability failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Connection (08), transaction rollback (40), insufficient resources (53)
	// and operator intervention (57) classes
	var pgerr pgdriver.Error
	if errors.As(err, &pgerr) {
		switch class := pgerr.Field('C'); {
		case strings.HasPrefix(class, "08"),
			strings.HasPrefix(class, "40"),
			strings.HasPrefix(class, "53"),
			strings.HasPrefix(class, "57"):
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := err.Error()

	return strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "i/o timeout")
}

// backOff builds the constant backoff for the policy.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}

	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), retries), ctx)
}

// retryable applies the policy predicate, defaulting to IsTransient.
func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsTransient(err)
	}

	return p.Retryable(err)
}

// Do runs operation under the policy.
// Non-retryable errors stop immediately; otherwise the last error is returned
// once the attempts are exhausted.
func Do[T any](ctx context.Context, policy Policy, operation func(context.Context) (T, error)) (T, error) {
	var (
		result    T
		lastErr   error
		permanent bool
	)

	err := backoff.Retry(func() error {
		var err error

		result, err = operation(ctx)
		if err != nil {
			if !policy.retryable(err) {
				permanent = true
				return backoff.Permanent(fmt.Errorf("non-retryable error: %w", err))
			}

			lastErr = err

			return err
		}

		return nil
	}, policy.backOff(ctx))
	if err != nil {
		if lastErr != nil && !permanent {
			return result, fmt.Errorf("database operation failed after retries: %w", lastErr)
		}

		return result, fmt.Errorf("database operation failed: %w", err)
	}

	return result, nil
}

// Operation wraps a read that returns a result.
func Operation[T any](ctx context.Context, policy Policy, operation func(context.Context) (T, error)) (T, error) {
	return Do(ctx, policy, operation)
}

// NoResult wraps a database operation that doesn't return a result.
func NoResult(ctx context.Context, policy Policy, operation func(context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})

	return err
}

// Transaction runs fn in a transaction and retries the whole transaction under the policy.
func Transaction(ctx context.Context, db bun.IDB, policy Policy, fn func(context.Context, bun.Tx) error) error {
	return NoResult(ctx, policy, func(ctx context.Context) error {
		return db.RunInTx(ctx, nil, fn)
	})
}
