package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

// WithTimeout runs fn under a deadline and returns its value. When the
// deadline fires first the error wraps both apperrors.ErrTimeout and
// context.DeadlineExceeded; fn keeps running in the background until it
// observes its cancelled context. A timeout <= 0 calls fn directly.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(tctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(o.err, context.DeadlineExceeded) {
			return o.value, timedOut(name, timeout)
		}
		return o.value, o.err
	case <-tctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, timedOut(name, timeout)
	}
}

func timedOut(name string, limit time.Duration) error {
	return fmt.Errorf("%s: %w after %s: %w", name, apperrors.ErrTimeout, limit, context.DeadlineExceeded)
}
