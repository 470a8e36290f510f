// Package cache keeps phrase query results in Redis. Keys are derived from
// the normalised phrase list and the cache generation, so equivalent queries
// share an entry and an invalidation makes every older entry unreachable
// even before its deletion completes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/resilience"
)

const keyPrefix = "phrase:"

// Backend is the key-value store behind the cache. *redis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Enabled    bool   `json:"enabled"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
	Errors     int64  `json:"errors"`
	Generation uint64 `json:"generation"`
	Breaker    string `json:"breaker"`
}

// QueryCache caches SearchResults. A QueryCache without a backend computes
// every query.
type QueryCache struct {
	backend    Backend
	ttl        time.Duration
	breaker    *resilience.CircuitBreaker
	group      singleflight.Group
	logger     *slog.Logger
	metrics    *metrics.Metrics
	generation atomic.Uint64
	hits       atomic.Int64
	misses     atomic.Int64
	errors     atomic.Int64
}

// New creates a QueryCache over backend, which may be nil. m may be nil.
func New(backend Backend, ttl time.Duration, log *slog.Logger, m *metrics.Metrics) *QueryCache {
	log = logger.WithComponent(log, "query-cache")
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     10 * time.Second,
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}, log),
		logger:  log,
		metrics: m,
	}
}

// Enabled reports whether results are stored anywhere.
func (c *QueryCache) Enabled() bool { return c.backend != nil }

// Get returns the cached result for plan. Backend failures count as misses.
func (c *QueryCache) Get(ctx context.Context, plan *parser.QueryPlan) (*executor.SearchResult, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key := c.Key(plan)
	var data []byte
	err := c.guard(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		c.fail("cache get failed", key, err)
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.fail("cache entry unreadable", key, err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	c.logger.Debug("cache hit", "query", plan.RawQuery, "key", key)
	result.Cached = true
	return &result, true
}

// Set stores result for plan. Results with failed shards are not stored so
// a transient failure is not served back until the TTL runs out.
func (c *QueryCache) Set(ctx context.Context, plan *parser.QueryPlan, result *executor.SearchResult) {
	if !c.Enabled() || result == nil || result.FailedShards() > 0 {
		return
	}
	key := c.Key(plan)
	data, err := json.Marshal(result)
	if err != nil {
		c.fail("cache marshal failed", key, err)
		return
	}
	if err := c.guard(func() error { return c.backend.Set(ctx, key, data, c.ttl) }); err != nil {
		c.fail("cache set failed", key, err)
	}
}

// GetOrCompute returns the cached result for plan or computes and stores
// it. Concurrent misses for the same key share one computation. The bool
// reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan *parser.QueryPlan,
	compute func(context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, plan); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(c.Key(plan), func() (any, error) {
		result, err := compute(ctx)
		if err != nil {
			return result, err
		}
		c.Set(ctx, plan, result)
		return result, nil
	})
	result, _ := val.(*executor.SearchResult)
	return result, false, err
}

// Invalidate bumps the generation and deletes every stored entry.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	gen := c.generation.Add(1)
	if !c.Enabled() {
		return 0, nil
	}
	var deleted int64
	err := c.guard(func() error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		c.errors.Add(1)
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted, "generation", gen)
	return deleted, nil
}

func (c *QueryCache) Stats() Stats {
	return Stats{
		Enabled:    c.Enabled(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Errors:     c.errors.Load(),
		Generation: c.generation.Load(),
		Breaker:    c.breaker.State().String(),
	}
}

// Key is the Redis key of plan under the current generation.
func (c *QueryCache) Key(plan *parser.QueryPlan) string {
	d := xxhash.New()
	d.WriteString(strings.Join(plan.Keys(), "\x1f"))
	d.WriteString("\x1e")
	d.WriteString(strconv.FormatUint(c.generation.Load(), 10))
	return keyPrefix + strconv.FormatUint(d.Sum64(), 16)
}

func (c *QueryCache) guard(fn func() error) error {
	return c.breaker.Execute(fn)
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}

func (c *QueryCache) fail(msg, key string, err error) {
	c.errors.Add(1)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Debug(msg, "key", key, "error", err)
		return
	}
	c.logger.Warn(msg, "key", key, "error", err)
}
