package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/resilience"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []string
	cb := resilience.NewCircuitBreaker("redis-cache", resilience.BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange: func(name string, from, to resilience.State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, nil)

	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, resilience.StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, called)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, resilience.StateClosed, cb.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker("redis-cache", resilience.BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	}, nil)
	_ = cb.Execute(func() error { return errBoom })
	time.Sleep(15 * time.Millisecond)

	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, resilience.StateOpen, cb.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker("redis-cache", resilience.BreakerConfig{FailureThreshold: 1}, nil)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return context.Canceled })
	}
	assert.Equal(t, resilience.StateClosed, cb.State())

	_ = cb.Execute(func() error { return errBoom })
	require.Equal(t, resilience.StateOpen, cb.State())
	cb.Reset()
	assert.Equal(t, resilience.StateClosed, cb.State())
	assert.Equal(t, "redis-cache", cb.Name())
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after failures", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := resilience.Retry(context.Background(), "publish", resilience.Backoff{
			Attempts: 3,
			Initial:  time.Millisecond,
		}, func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("wraps last error", func(t *testing.T) {
		t.Parallel()
		err := resilience.Retry(context.Background(), "publish", resilience.Backoff{
			Attempts: 2,
			Initial:  time.Millisecond,
		}, func(context.Context) error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
		assert.ErrorContains(t, err, "publish: all 2 attempts failed")
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := resilience.Retry(context.Background(), "postgres-ping", resilience.Backoff{
			Attempts:  5,
			Initial:   time.Millisecond,
			Retryable: func(err error) bool { return !errors.Is(err, errBoom) },
		}, func(context.Context) error {
			attempts++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, attempts)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		attempts := 0
		err := resilience.Retry(ctx, "publish", resilience.Backoff{Attempts: 5}, func(context.Context) error {
			attempts++
			return errBoom
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := resilience.Backoff{Initial: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(10))
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	_, err := resilience.WithTimeout(context.Background(), 10*time.Millisecond, "shard index2.txt", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "shard index2.txt")

	n, err := resilience.WithTimeout(context.Background(), time.Second, "shard", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = resilience.WithTimeout(context.Background(), 0, "shard", func(context.Context) (int, error) { return 0, errBoom })
	assert.ErrorIs(t, err, errBoom)
}

func TestWithTimeout_ParentCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := resilience.WithTimeout(ctx, time.Second, "shard", func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrTimeout)
}
