// Command indexer builds and incrementally updates the sharded phrase index
// of an earnings-call transcript corpus.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/notify"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewMain().Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Main represents the program.
type Main struct {
	// Registry collects the indexer's metrics. Set before calling Run to
	// inspect them.
	Registry *prometheus.Registry

	closers []io.Closer
}

func NewMain() *Main {
	return &Main{Registry: prometheus.NewRegistry()}
}

// Close releases every connection opened by Run.
func (m *Main) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = append(errs, m.closers[i].Close())
	}
	m.closers = nil
	return errors.Join(errs...)
}

// Run parses args, wires the configured dependencies and executes the
// selected command.
func (m *Main) Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("indexer"),
		kong.Description("Build and update the phrase index of a transcript corpus."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.UsageOnError(),
	)
	if err != nil {
		return fmt.Errorf("creating parser: %w", err)
	}
	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified, run 'indexer --help' to see available commands")
	}
	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}
	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	cli.apply(cfg)
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, stderr)
	met := metrics.New(m.Registry)

	deps := &Dependencies{
		Ctx:     ctx,
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
		Config:  cfg,
		Logger:  log,
		Metrics: met,
		OpenPostgres: func(ctx context.Context) (*postgres.Client, error) {
			client, err := postgres.New(ctx, cfg.Postgres, log)
			if err != nil {
				return nil, err
			}
			m.closers = append(m.closers, client)
			return client, nil
		},
	}
	defer m.Close()

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, log)
		m.closers = append(m.closers, producer)
		deps.Notifier = notify.New(producer, log)
	}
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, m.Registry, log)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Shutdown(context.WithoutCancel(ctx))
	}

	log.Debug("indexer starting", "command", kongCtx.Command(), "data_dir", cfg.Indexer.DataDir)
	return kongCtx.Run(deps)
}

// publish announces written shards. Failures are logged: the index on disk
// is already consistent and searchers also pick changes up by fingerprint.
func publish(deps *Dependencies, ev notify.IndexEvent, log *slog.Logger) {
	if err := deps.Notifier.Publish(deps.Ctx, ev); err != nil {
		log.Warn("index event not delivered", "kind", ev.Kind, "error", err)
	}
}
