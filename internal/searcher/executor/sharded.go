package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/tracing"
)

type fileLoader struct{}

func (fileLoader) Load(_ context.Context, path string) (*index.Store, error) {
	return segment.ReadFile(path)
}

// Engine searches every shard of an index directory in parallel. Each
// worker loads its own shard and answers every phrase of the query.
type Engine struct {
	dir     string
	timeout time.Duration
	loader  ShardLoader
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine over cfg.DataDir. A nil loader decodes the
// shard files on every query; m may be nil.
func NewEngine(cfg config.SearchConfig, loader ShardLoader, log *slog.Logger, m *metrics.Metrics) *Engine {
	if loader == nil {
		loader = fileLoader{}
	}
	return &Engine{
		dir:     cfg.DataDir,
		timeout: cfg.TimeoutPerShard,
		loader:  loader,
		logger:  logger.WithComponent(log, "query-engine"),
		metrics: m,
	}
}

// Search parses query and executes it. An empty query returns an empty
// result and an error wrapping ErrEmptyQuery.
func (e *Engine) Search(ctx context.Context, query string) (*SearchResult, error) {
	return e.Execute(ctx, parser.Parse(query))
}

// Execute runs plan against every shard. A failed shard is reported in its
// ShardResult and the others still answer; the call itself fails only when
// there are no shards or all of them failed.
func (e *Engine) Execute(ctx context.Context, plan *parser.QueryPlan) (*SearchResult, error) {
	start := time.Now()
	result := &SearchResult{
		Query:   plan.RawQuery,
		Phrases: make([]string, 0, len(plan.Phrases)),
		Shards:  []ShardResult{},
		Totals:  map[string][]Match{},
	}
	for _, p := range plan.Phrases {
		result.Phrases = append(result.Phrases, p.Raw)
	}
	if plan.Empty() {
		e.metrics.ObserveSearch("empty", "none", time.Since(start).Seconds())
		return result, apperrors.ErrEmptyQuery
	}

	paths, err := shard.Discover(e.dir)
	if err != nil {
		return nil, fmt.Errorf("discovering shards: %w", err)
	}
	if len(paths) == 0 {
		e.metrics.ObserveSearch("error", "none", time.Since(start).Seconds())
		return nil, &apperrors.ShardNotFoundError{Path: shard.Path(e.dir, 1)}
	}

	traceID := logger.RequestID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx, trace := tracing.Start(ctx, "search", traceID)
	trace.Annotate(slog.Int("phrases", len(plan.Phrases)), slog.Int("shards", len(paths)))

	results := make(chan ShardResult, len(paths))
	for i, p := range paths {
		go e.searchShard(ctx, i, p, plan, results)
	}
	result.Shards = make([]ShardResult, len(paths))
	for range paths {
		r := <-results
		result.Shards[r.Worker] = r
	}
	trace.End()
	trace.Log(ctx, e.logger)

	result.Totals = mergeTotals(result.Phrases, result.Shards)
	for _, phrase := range result.Phrases {
		e.metrics.ObserveMatches(len(result.Totals[phrase]))
	}

	failed := result.FailedShards()
	outcome := "ok"
	switch {
	case failed == len(paths):
		outcome = "error"
	case failed > 0:
		outcome = "partial"
	}
	e.metrics.ObserveSearch(outcome, "miss", time.Since(start).Seconds())
	logger.FromContext(ctx, e.logger).Info("phrase query executed",
		"query", plan.RawQuery,
		"phrases", len(plan.Phrases),
		"shards", len(paths),
		"failed_shards", failed,
		"duration", time.Since(start),
	)
	if failed == len(paths) {
		errs := make([]error, 0, failed)
		for _, s := range result.Shards {
			errs = append(errs, s.Err)
		}
		return result, fmt.Errorf("all %d shards failed: %w", failed, errors.Join(errs...))
	}
	return result, nil
}

// searchShard answers plan from one shard and sends exactly one result.
func (e *Engine) searchShard(ctx context.Context, worker int, path string, plan *parser.QueryPlan, out chan<- ShardResult) {
	start := time.Now()
	name := filepath.Base(path)
	span := tracing.Begin(ctx, "shard")

	r := ShardResult{Worker: worker, Shard: path}
	matches, err := resilience.WithTimeout(ctx, e.timeout, "shard "+name, func(ctx context.Context) (map[string][]Match, error) {
		store, err := e.loader.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		found := make(map[string][]Match, len(plan.Phrases))
		for _, phrase := range plan.Phrases {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			m, err := MatchPhrase(store, phrase)
			if err != nil {
				e.logger.Debug("phrase has no candidates", "shard", name, "phrase", phrase.Raw, "reason", err)
			}
			found[phrase.Raw] = m
		}
		return found, nil
	})

	reason := ""
	if err != nil {
		reason = failureReason(err)
		r.Err = fmt.Errorf("shard %s: %w", name, err)
		r.Error = r.Err.Error()
		e.logger.Warn("shard query failed", "shard", name, "reason", reason, "error", err)
	} else {
		r.Matches = matches
	}
	r.Duration = time.Since(start)
	span.End(slog.String("shard", name), slog.Bool("failed", err != nil))
	e.metrics.ObserveShard(r.Duration.Seconds(), reason)
	out <- r
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrShardNotFound):
		return "missing"
	case errors.Is(err, apperrors.ErrCorruptShard):
		return "corrupt"
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}
