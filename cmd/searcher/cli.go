package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
)

// Dependencies holds everything a command needs.
type Dependencies struct {
	Ctx      context.Context
	Stdout   io.Writer
	Stderr   io.Writer
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Config   string `short:"c" env:"SP_CONFIG" help:"Path to YAML config file."`
	DataDir  string `name:"data-dir" help:"Index directory (overrides search.dataDir)."`
	LogLevel string `name:"log-level" help:"Log level: debug, info, warn or error (overrides logging.level)."`

	Query QueryCmd `cmd:"" help:"Run one query and print mentions per call date."`
	Serve ServeCmd `cmd:"" help:"Serve the search API over HTTP."`
}

func (c *CLI) apply(cfg *config.Config) {
	if c.DataDir != "" {
		cfg.Search.DataDir = c.DataDir
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
}
