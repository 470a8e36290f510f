// Command loadtest drives concurrent phrase queries against a running
// "searcher serve" and reports throughput, latency percentiles, cache hits
// and status codes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewMain().Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var defaultQueries = []string{
	"profit margin",
	"unexpected loss",
	"supply chain",
	"free cash flow",
	"headwinds, tailwinds",
	"guidance",
	"share buyback",
	"gross margin, operating margin",
	"inflation",
	"foreign exchange",
	"interest rates",
	"record quarter",
}

// CLI is the load test's command line.
type CLI struct {
	URL         string        `default:"http://localhost:8080" help:"Base URL of the search service."`
	Concurrency int           `short:"n" default:"10" help:"Number of concurrent workers."`
	Duration    time.Duration `short:"d" default:"30s" help:"How long to run."`
	Timeout     time.Duration `default:"10s" help:"Per-request timeout."`
	Queries     []string      `short:"q" sep:"none" help:"Query to send, repeatable. Defaults to a built-in set."`
}

// Main represents the program.
type Main struct{}

func NewMain() *Main {
	return &Main{}
}

func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("loadtest"),
		kong.Description("Load test the phrase search API."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.UsageOnError(),
	)
	if err != nil {
		return fmt.Errorf("creating parser: %w", err)
	}
	if len(args) > 0 && (args[0] == "help" || args[0] == "--help" || args[0] == "-h") {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}
	if _, err := parser.Parse(args); err != nil {
		return err
	}
	if cli.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", cli.Concurrency)
	}
	queries := cli.Queries
	if len(queries) == 0 {
		queries = defaultQueries
	}

	fmt.Fprintln(stdout, "=== Phrase Search Load Test ===")
	fmt.Fprintf(stdout, "Target:      %s\n", cli.URL)
	fmt.Fprintf(stdout, "Concurrency: %d\n", cli.Concurrency)
	fmt.Fprintf(stdout, "Duration:    %s\n", cli.Duration)
	fmt.Fprintf(stdout, "Queries:     %d unique\n\n", len(queries))

	stats := runLoad(ctx, loadConfig{
		BaseURL:     cli.URL,
		Concurrency: cli.Concurrency,
		Duration:    cli.Duration,
		Timeout:     cli.Timeout,
		Queries:     queries,
	})
	stats.Report(stdout, cli.Duration)
	if stats.Total() == 0 {
		return errors.New("no requests completed, is the service running?")
	}
	return nil
}
