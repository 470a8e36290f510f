// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// indexer, the searcher and the services they talk to.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by the indexer and the searcher.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the search API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// RateLimit is the number of requests per minute allowed per client IP.
	// Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`

	// CORSOrigins lists browser origins allowed to call the API; "*" allows
	// any. Empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// CorpusConfig selects where transcripts are read from: "file" reads the
// JSONL export at Path, "postgres" streams the transcripts table.
type CorpusConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Table  string `yaml:"table"`
}

// PostgresConfig locates the transcripts database for corpus.source
// postgres.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables index events.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics names the topics in use.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// disables the result cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls shard rollover, checkpointing and vocabulary
// pruning.
type IndexerConfig struct {
	DataDir         string `yaml:"dataDir"`
	ShardMaxBytes   int64  `yaml:"shardMaxBytes"`
	CheckpointEvery int    `yaml:"checkpointEvery"`
	PruneMinCount   int    `yaml:"pruneMinCount"`
	MaxVocabSize    int    `yaml:"maxVocabSize"`
	MinCount        int    `yaml:"minCount"`
}

// SearchConfig controls query execution across shards.
type SearchConfig struct {
	DataDir         string        `yaml:"dataDir"`
	TimeoutPerShard time.Duration `yaml:"timeoutPerShard"`
	ShardCacheSize  int           `yaml:"shardCacheSize"`
}

// LoggingConfig selects the slog level (debug, info, warn, error) and
// handler (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables Prometheus collectors. The indexer serves them on
// Port; the searcher mounts /metrics on its API port.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load starts from Default, merges the YAML file at path when one is given,
// applies SP_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for local runs: shards under
// ./index, 100 MB rollover, checkpoints every 1000 transcripts.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Corpus: CorpusConfig{
			Source: "file",
			Path:   "data/transcripts.jsonl.gz",
			Table:  "transcripts",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "transcripts",
			User:            "transcripts",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "phrase-searcher",
			Topics: KafkaTopics{
				IndexComplete: "index.complete",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Indexer: IndexerConfig{
			DataDir:         "index",
			ShardMaxBytes:   100_000_000,
			CheckpointEvery: 1000,
			PruneMinCount:   2,
			MinCount:        5,
		},
		Search: SearchConfig{
			DataDir:        "index",
			ShardCacheSize: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// Validate rejects settings the indexer and searcher cannot run with. Every
// problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Indexer.DataDir != "", "indexer.dataDir must not be empty")
	check(c.Indexer.ShardMaxBytes > 0, "indexer.shardMaxBytes must be positive, got %d", c.Indexer.ShardMaxBytes)
	check(c.Indexer.CheckpointEvery >= 0, "indexer.checkpointEvery must not be negative, got %d", c.Indexer.CheckpointEvery)
	check(c.Indexer.MaxVocabSize >= 0, "indexer.maxVocabSize must not be negative, got %d", c.Indexer.MaxVocabSize)
	check(c.Corpus.Source == "file" || c.Corpus.Source == "postgres",
		"corpus.source must be file or postgres, got %q", c.Corpus.Source)
	check(c.Server.RateLimit >= 0, "server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Search.DataDir == "" {
		c.Search.DataDir = c.Indexer.DataDir
	}
	return nil
}

// envBindings maps each SP_* variable to the fields it overrides. Numeric
// values that do not parse are ignored.
func envBindings(c *Config) []struct {
	name   string
	target any
} {
	return []struct {
		name   string
		target any
	}{
		{"SP_SERVER_PORT", &c.Server.Port},
		{"SP_SERVER_RATE_LIMIT", &c.Server.RateLimit},
		{"SP_INDEX_DIR", []*string{&c.Indexer.DataDir, &c.Search.DataDir}},
		{"SP_SHARD_MAX_BYTES", &c.Indexer.ShardMaxBytes},
		{"SP_CORPUS_SOURCE", &c.Corpus.Source},
		{"SP_CORPUS_PATH", &c.Corpus.Path},
		{"SP_POSTGRES_HOST", &c.Postgres.Host},
		{"SP_POSTGRES_PORT", &c.Postgres.Port},
		{"SP_POSTGRES_DATABASE", &c.Postgres.Database},
		{"SP_POSTGRES_USER", &c.Postgres.User},
		{"SP_POSTGRES_PASSWORD", &c.Postgres.Password},
		{"SP_POSTGRES_SSLMODE", &c.Postgres.SSLMode},
		{"SP_KAFKA_BROKERS", &c.Kafka.Brokers},
		{"SP_REDIS_ADDR", &c.Redis.Addr},
		{"SP_REDIS_PASSWORD", &c.Redis.Password},
		{"SP_LOGGING_LEVEL", &c.Logging.Level},
		{"SP_LOGGING_FORMAT", &c.Logging.Format},
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, b := range envBindings(cfg) {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		switch t := b.target.(type) {
		case *string:
			*t = v
		case []*string:
			for _, p := range t {
				*p = v
			}
		case *[]string:
			*t = strings.Split(v, ",")
		case *int:
			if n, err := strconv.Atoi(v); err == nil {
				*t = n
			}
		case *int64:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*t = n
			}
		}
	}
}
