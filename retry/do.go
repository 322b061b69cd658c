package retry

import (
	"context"
	"time"
)

// Options bounds a retry loop.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Defaults to 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; it doubles after each
	// failed attempt. Defaults to 10ms.
	BaseDelay time.Duration
}

// Do runs fn until it succeeds, returns a non-recoverable error, exhausts
// its attempts, or the context is done. Delays grow exponentially from
// BaseDelay between attempts.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 10 * time.Millisecond
	}
	delay := opts.BaseDelay

	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsRecoverable(err) || attempt == opts.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
