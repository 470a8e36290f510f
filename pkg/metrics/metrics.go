// Package metrics defines the Prometheus collectors used by the indexer and
// the searcher and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	ShardQueryLatency    prometheus.Histogram
	ShardQueryErrors     *prometheus.CounterVec
	PhraseMatches        prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ShardCacheHitsTotal  prometheus.Counter
	DocsIndexedTotal     prometheus.Counter
	DocsSkippedTotal     *prometheus.CounterVec
	ShardWritesTotal     *prometheus.CounterVec
	ShardBytes           *prometheus.GaugeVec
	TokensPrunedTotal    prometheus.Counter
	ActiveShards         prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to read values with testutil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total phrase queries by outcome (ok, empty, partial, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Phrase query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"cache_status"},
		),
		ShardQueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shard_query_latency_seconds",
				Help:    "Time one shard worker spends loading and answering a query.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 10),
			},
		),
		ShardQueryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_query_errors_total",
				Help: "Shard workers that failed, by reason (missing, corrupt, timeout, other).",
			},
			[]string{"reason"},
		),
		PhraseMatches: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phrase_matching_documents",
				Help:    "Documents matching a phrase, per phrase and query.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		ShardCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shard_cache_hits_total",
				Help: "Decoded shards served from the in-process cache.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		DocsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_skipped_total",
				Help: "Documents skipped by reason (decode, encoding_conflict, duplicate, source).",
			},
			[]string{"reason"},
		),
		ShardWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_writes_total",
				Help: "Total shard file writes by status.",
			},
			[]string{"status"},
		),
		ShardBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_size_bytes",
				Help: "Size of each shard file after its last write.",
			},
			[]string{"shard"},
		),
		TokensPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokens_pruned_total",
				Help: "Tokens removed by checkpoint pruning and vocabulary finalisation.",
			},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of shard files in the index directory.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.SearchQueriesTotal,
			m.SearchLatency,
			m.ShardQueryLatency,
			m.ShardQueryErrors,
			m.PhraseMatches,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.ShardCacheHitsTotal,
			m.DocsIndexedTotal,
			m.DocsSkippedTotal,
			m.ShardWritesTotal,
			m.ShardBytes,
			m.TokensPrunedTotal,
			m.ActiveShards,
			m.CircuitBreakerState,
		)
	}

	return m
}

// ObserveHTTP records one finished API request.
func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) DocIndexed() {
	if m != nil {
		m.DocsIndexedTotal.Inc()
	}
}

func (m *Metrics) DocSkipped(reason string) {
	if m != nil {
		m.DocsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

// ShardWritten records a shard write; size is ignored when err is set.
func (m *Metrics) ShardWritten(shard string, size int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ShardWritesTotal.WithLabelValues("error").Inc()
		return
	}
	m.ShardWritesTotal.WithLabelValues("ok").Inc()
	m.ShardBytes.WithLabelValues(shard).Set(float64(size))
}

func (m *Metrics) TokensPruned(n int) {
	if m != nil && n > 0 {
		m.TokensPrunedTotal.Add(float64(n))
	}
}

func (m *Metrics) SetActiveShards(n int) {
	if m != nil {
		m.ActiveShards.Set(float64(n))
	}
}

func (m *Metrics) ObserveSearch(outcome, cacheStatus string, seconds float64) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(seconds)
}

func (m *Metrics) ObserveShard(seconds float64, errReason string) {
	if m == nil {
		return
	}
	m.ShardQueryLatency.Observe(seconds)
	if errReason != "" {
		m.ShardQueryErrors.WithLabelValues(errReason).Inc()
	}
}

func (m *Metrics) ObserveMatches(n int) {
	if m != nil {
		m.PhraseMatches.Observe(float64(n))
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) ShardCacheHit() {
	if m != nil {
		m.ShardCacheHitsTotal.Inc()
	}
}

// SetBreakerState publishes a circuit breaker state as 0, 1 or 2.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
