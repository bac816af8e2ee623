package stream

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy wraps the remote create and append calls.
type RetryPolicy interface {
	Do(ctx context.Context, op func() error) error
}

// NoRetry runs the operation once.
type NoRetry struct{}

func (NoRetry) Do(_ context.Context, op func() error) error {
	return op()
}

// BackoffRetry retries with exponential backoff, capped at MaxDelay.
type BackoffRetry struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func (b BackoffRetry) Do(ctx context.Context, op func() error) error {
	// retry-go treats 0 attempts as "forever"
	if b.Attempts <= 1 {
		return op()
	}

	return retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(b.Attempts),
		retry.Delay(b.Delay),
		retry.MaxDelay(b.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
