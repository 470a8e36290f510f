package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/consumer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/redis"
)

// apiRoutes are the paths labelled individually in the HTTP metrics.
var apiRoutes = []string{
	"/api/v1/search",
	"/api/v1/cache/stats",
	"/api/v1/cache/invalidate",
	"/health/live",
	"/health/ready",
	"/metrics",
}

// ServeCmd is the "serve" subcommand.
type ServeCmd struct {
	Port     int  `short:"p" help:"Listen port (overrides server.port)."`
	NoCache  bool `name:"no-cache" help:"Do not cache results in Redis even when redis.addr is set."`
	NoEvents bool `name:"no-events" help:"Do not consume index events even when kafka.brokers is set."`
}

// Service is the wired search API.
type Service struct {
	Handler http.Handler
	Loader  *executor.Loader
	Cache   *cache.QueryCache

	consumer *consumer.IndexConsumer
	closers  []func() error
}

// Close releases the Redis connection and the rate limiter.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// NewService wires the engine, the caches, the index event consumer, the
// health checks and the middleware chain from deps.Config. Redis and Kafka
// are optional: an unreachable Redis only disables result caching.
func (c *ServeCmd) NewService(deps *Dependencies) (*Service, error) {
	cfg := deps.Config
	log := deps.Logger
	svc := &Service{}

	loader, err := executor.NewLoader(cfg.Search.ShardCacheSize, log, deps.Metrics)
	if err != nil {
		return nil, err
	}
	svc.Loader = loader
	engine := executor.NewEngine(cfg.Search, loader, log, deps.Metrics)

	var redisClient *pkgredis.Client
	var backend cache.Backend
	if cfg.Redis.Addr != "" && !c.NoCache {
		redisClient, err = pkgredis.NewClient(deps.Ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, search caching disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			svc.closers = append(svc.closers, redisClient.Close)
			backend = redisClient
			log.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	svc.Cache = cache.New(backend, cfg.Redis.CacheTTL, log, deps.Metrics)

	if len(cfg.Kafka.Brokers) > 0 && !c.NoEvents {
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete,
			consumer.HandleMessage(svc.Cache, loader, log), log)
		svc.consumer = consumer.New(kc, log)
	}

	checker := health.NewChecker(log)
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		paths, err := shard.Discover(cfg.Search.DataDir)
		switch {
		case err != nil:
			return health.Down(err)
		case len(paths) == 0:
			return health.Down(fmt.Errorf("no shards in %s", cfg.Search.DataDir))
		default:
			return health.Up("%d shards", len(paths))
		}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.Degraded("caching disabled")
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.Degraded("%v", err)
		}
		return health.Up("breaker %s", svc.Cache.Stats().Breaker)
	})

	mux := http.NewServeMux()
	handler.New(engine, svc.Cache, loader, log, deps.Metrics).Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(deps.Gatherer))
	}

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		svc.closers = append(svc.closers, limiter.Close)
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout, log)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	chain = middleware.Metrics(deps.Metrics, apiRoutes...)(chain)
	chain = middleware.RequestID(chain)
	svc.Handler = chain
	return svc, nil
}

func (c *ServeCmd) Run(deps *Dependencies) error {
	cfg := deps.Config
	log := deps.Logger
	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}
	svc, err := c.NewService(deps)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(deps.Ctx)
	defer cancel()
	if svc.consumer != nil {
		go func() {
			if err := svc.consumer.Start(ctx); err != nil {
				log.Error("index consumer stopped", "error", err)
			}
		}()
		log.Info("consuming index events", "topic", cfg.Kafka.Topics.IndexComplete, "group", cfg.Kafka.ConsumerGroup)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      svc.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("search service listening", "addr", server.Addr, "data_dir", cfg.Search.DataDir)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving search api: %w", err)
	}
	cancel()
	<-shutdownDone
	log.Info("search service stopped")
	return nil
}
