// Package handler serves the phrase search API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
)

// SearchExecutor is satisfied by *executor.Engine.
type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan) (*executor.SearchResult, error)
}

// Purger is satisfied by *executor.Loader.
type Purger interface {
	Purge()
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Query        string                          `json:"query"`
	Phrases      []string                        `json:"phrases"`
	Totals       map[string][]executor.Match     `json:"totals"`
	ByDate       map[string][]executor.DateCount `json:"by_date"`
	Shards       []executor.ShardResult          `json:"shards,omitempty"`
	FailedShards int                             `json:"failed_shards"`
	Cached       bool                            `json:"cached"`
	LatencyMs    int64                           `json:"latency_ms"`
}

type Handler struct {
	executor SearchExecutor
	cache    *cache.QueryCache
	loader   Purger
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a Handler. queryCache, loader and m may be nil.
func New(exec SearchExecutor, queryCache *cache.QueryCache, loader Purger, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		executor: exec,
		cache:    queryCache,
		loader:   loader,
		logger:   logger.WithComponent(log, "search-handler"),
		metrics:  m,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search answers GET /api/v1/search?q=phrase one,phrase two. shards=true
// adds the per-shard breakdown.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx, h.logger)

	plan := parser.Parse(r.URL.Query().Get("q"))
	if plan.Empty() {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' must contain at least one phrase")
		return
	}
	withShards := false
	if v := r.URL.Query().Get("shards"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "shards must be a boolean")
			return
		}
		withShards = b
	}

	var result *executor.SearchResult
	var err error
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, plan, func(ctx context.Context) (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, plan)
		})
	} else {
		result, err = h.executor.Execute(ctx, plan)
	}
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("search execution failed", "query", plan.RawQuery, "status", status, "error", err)
		h.writeError(w, status, publicMessage(err))
		return
	}
	if cacheHit {
		h.metrics.ObserveSearch("ok", "hit", time.Since(start).Seconds())
		result = result.Relabel(plan)
	}

	resp := SearchResponse{
		Query:        result.Query,
		Phrases:      result.Phrases,
		Totals:       result.Totals,
		ByDate:       make(map[string][]executor.DateCount, len(result.Phrases)),
		FailedShards: result.FailedShards(),
		Cached:       cacheHit,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	for _, phrase := range result.Phrases {
		resp.ByDate[phrase] = result.Histogram(phrase)
	}
	if withShards {
		resp.Shards = result.Shards
	}
	log.Info("search completed",
		"query", plan.RawQuery,
		"phrases", len(result.Phrases),
		"failed_shards", resp.FailedShards,
		"cache_hit", cacheHit,
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    stats.Enabled,
		"hits":       stats.Hits,
		"misses":     stats.Misses,
		"errors":     stats.Errors,
		"total":      total,
		"hit_rate":   fmt.Sprintf("%.1f%%", hitRate),
		"generation": stats.Generation,
		"breaker":    stats.Breaker,
	})
}

// CacheInvalidate drops cached results and decoded shards.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.loader != nil {
		h.loader.Purge()
	}
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": 0})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrShardNotFound):
		return "index not found"
	case errors.Is(err, apperrors.ErrTimeout):
		return "search timed out"
	case errors.Is(err, apperrors.ErrEmptyQuery):
		return apperrors.ErrEmptyQuery.Error()
	default:
		return "search failed"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
