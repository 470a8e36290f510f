package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/notify"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/postgres"
)

// Dependencies holds everything a command needs.
type Dependencies struct {
	Ctx      context.Context
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier

	// OpenPostgres connects lazily so file-based runs never need a database.
	OpenPostgres func(ctx context.Context) (*postgres.Client, error)
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Config   string `short:"c" env:"SP_CONFIG" help:"Path to YAML config file."`
	DataDir  string `name:"data-dir" help:"Index directory (overrides indexer.dataDir)."`
	LogLevel string `name:"log-level" help:"Log level: debug, info, warn or error (overrides logging.level)."`

	Build  BuildCmd  `cmd:"" help:"Build the index from scratch."`
	Update UpdateCmd `cmd:"" help:"Add transcripts the index does not cover yet to its last shard."`
	Import ImportCmd `cmd:"" help:"Load a JSONL transcript export into the PostgreSQL transcripts table."`
}

func (c *CLI) apply(cfg *config.Config) {
	if c.DataDir != "" {
		cfg.Indexer.DataDir = c.DataDir
		cfg.Search.DataDir = c.DataDir
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
}

// SourceFlags selects the corpus. Without either flag corpus.source from
// the config decides.
type SourceFlags struct {
	Corpus   string `short:"f" xor:"source" help:"JSONL(.gz) transcript export, '-' reads stdin."`
	Postgres bool   `xor:"source" help:"Read transcripts from PostgreSQL."`
}

func (f SourceFlags) open(deps *Dependencies) (corpus.Source, error) {
	cfg := deps.Config.Corpus
	if f.Postgres || (f.Corpus == "" && cfg.Source == "postgres") {
		client, err := deps.OpenPostgres(deps.Ctx)
		if err != nil {
			return nil, fmt.Errorf("opening transcript database: %w", err)
		}
		return corpus.PostgresSource{DB: client.DB, Table: cfg.Table}, nil
	}
	path := f.Corpus
	if path == "" {
		path = cfg.Path
	}
	if path == "-" {
		return corpus.ReaderSource{R: deps.Stdin}, nil
	}
	return corpus.JSONLSource{Path: path}, nil
}

// confirm asks question on out and reads a y/n answer from in. Anything but
// y or yes, including end of input, is no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
