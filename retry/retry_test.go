package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		require.False(t, IsRecoverable(nil))
	})

	t.Run("explicit markers win over heuristics", func(t *testing.T) {
		require.True(t, IsRecoverable(NewRecoverableError(errors.New("weird failure"))))
		require.False(t, IsRecoverable(NewNonRecoverableError(errors.New("connection refused"))))
	})

	t.Run("markers survive wrapping", func(t *testing.T) {
		marked := NewNonRecoverableError(errors.New("bad input"))
		wrapped := errors.Join(errors.New("outer"), marked)
		require.False(t, IsRecoverable(wrapped))
	})

	t.Run("context errors", func(t *testing.T) {
		require.True(t, IsRecoverable(context.DeadlineExceeded))
		require.False(t, IsRecoverable(context.Canceled))
	})

	t.Run("transient store failure patterns", func(t *testing.T) {
		for _, message := range []string{
			"dial tcp: connection refused",
			"read: connection reset by peer",
			"pq: deadlock detected",
			"pq: could not serialize access due to a serialization failure",
			"pq: too many connections for role",
			"i/o timeout",
			"503 service unavailable",
		} {
			require.True(t, IsRecoverable(errors.New(message)), message)
		}
	})

	t.Run("permanent failures", func(t *testing.T) {
		for _, message := range []string{
			"pq: duplicate key value violates unique constraint",
			"disk quota exceeded",
			"syntax error at or near",
		} {
			require.False(t, IsRecoverable(errors.New(message)), message)
		}
	})
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	fast := Options{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("returns immediately on success", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fast, func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("retries recoverable failures until success", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fast, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("stops on a non-recoverable failure", func(t *testing.T) {
		calls := 0
		permanent := errors.New("constraint violation")
		err := Do(ctx, fast, func(ctx context.Context) error {
			calls++
			return permanent
		})
		require.ErrorIs(t, err, permanent)
		require.Equal(t, 1, calls)
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		calls := 0
		transient := NewRecoverableError(errors.New("still down"))
		err := Do(ctx, fast, func(ctx context.Context) error {
			calls++
			return transient
		})
		require.Error(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("honors context cancellation between attempts", func(t *testing.T) {
		canceledCtx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(canceledCtx, Options{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond},
			func(ctx context.Context) error {
				calls++
				cancel()
				return errors.New("connection refused")
			})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
	})
}
