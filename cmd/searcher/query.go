package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

// QueryCmd is the "query" subcommand.
type QueryCmd struct {
	Query   string        `arg:"" help:"Comma-separated phrases, e.g. \"profit margin, unexpected loss\"."`
	Shards  bool          `help:"Also print what every shard found."`
	JSON    bool          `name:"json" help:"Print the full result as JSON."`
	Timeout time.Duration `help:"Per-shard timeout (overrides search.timeoutPerShard)."`
}

func (c *QueryCmd) Run(deps *Dependencies) error {
	cfg := deps.Config.Search
	if c.Timeout > 0 {
		cfg.TimeoutPerShard = c.Timeout
	}
	engine := executor.NewEngine(cfg, nil, deps.Logger, deps.Metrics)
	result, err := engine.Search(deps.Ctx, c.Query)
	if errors.Is(err, apperrors.ErrEmptyQuery) {
		return fmt.Errorf("%w: give at least one phrase, separated by commas", err)
	}
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(deps.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printTotals(deps.Stdout, result)
	if c.Shards {
		printShards(deps.Stdout, result)
	}
	if failed := result.FailedShards(); failed > 0 {
		fmt.Fprintf(deps.Stderr, "warning: %d of %d shards failed, counts are partial\n", failed, len(result.Shards))
	}
	return nil
}

func printTotals(out io.Writer, result *executor.SearchResult) {
	for _, phrase := range result.Phrases {
		matches := result.Totals[phrase]
		mentions := 0
		for _, m := range matches {
			mentions += m.Count
		}
		fmt.Fprintf(out, "%s: %d calls, %d mentions\n", strconv.Quote(phrase), len(matches), mentions)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, row := range result.Histogram(phrase) {
			fmt.Fprintf(tw, "  %s\t%d\n", row.Date.Format(time.DateOnly), row.Count)
		}
		tw.Flush()
	}
}

func printShards(out io.Writer, result *executor.SearchResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tPHRASE\tCALLS\tMENTIONS\tDURATION")
	for _, s := range result.Shards {
		name := filepath.Base(s.Shard)
		if s.Failed() {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s\tfailed: %s\n", name, s.Duration.Round(time.Microsecond), s.Error)
			continue
		}
		for _, phrase := range result.Phrases {
			mentions := 0
			for _, m := range s.Matches[phrase] {
				mentions += m.Count
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", name, strconv.Quote(phrase), len(s.Matches[phrase]), mentions, s.Duration.Round(time.Microsecond))
		}
	}
	tw.Flush()
}
