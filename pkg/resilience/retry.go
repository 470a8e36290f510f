package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
)

// Backoff is an exponential retry schedule. Zero fields take the defaults:
// 3 attempts, 100ms doubling up to 10s, 10% jitter.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	Jitter   float64
	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	Logger    *slog.Logger
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Initial <= 0 {
		b.Initial = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	if b.Factor < 1 {
		b.Factor = 2
	}
	if b.Jitter <= 0 {
		b.Jitter = 0.1
	}
	return b
}

// Delay is the wait after the given failed attempt (1-based), before
// jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	return time.Duration(min(d, float64(b.Max)))
}

func (b Backoff) jittered(attempt int) time.Duration {
	d := float64(b.Delay(attempt))
	d += d * b.Jitter * (2*rand.Float64() - 1)
	return time.Duration(max(d, 0))
}

// Retry calls fn until it succeeds, returns an error Retryable rejects, ctx
// ends or the attempts run out. The last error is wrapped.
func Retry(ctx context.Context, name string, b Backoff, fn func(context.Context) error) error {
	b = b.withDefaults()
	log := logger.WithComponent(b.Logger, "retry").With("operation", name)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			if attempt > 1 {
				log.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return fmt.Errorf("%s: %w", name, err)
		}
		if attempt == b.Attempts {
			return fmt.Errorf("%s: all %d attempts failed: %w", name, b.Attempts, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: retry aborted: %w", name, ctx.Err())
		}
		delay := b.jittered(attempt)
		log.Warn("attempt failed, retrying", "attempt", attempt, "max_attempts", b.Attempts, "next_delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry aborted during backoff: %w", name, ctx.Err())
		}
	}
}
