package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/notify"
)

// BuildCmd is the "build" subcommand.
type BuildCmd struct {
	SourceFlags `embed:""`
}

func (c *BuildCmd) Run(deps *Dependencies) error {
	src, err := c.open(deps)
	if err != nil {
		return err
	}
	b := indexer.NewBuilder(deps.Config.Indexer, deps.Logger, deps.Metrics)
	report, err := b.Build(deps.Ctx, src)
	if err != nil {
		return fmt.Errorf("building index in %s: %w", deps.Config.Indexer.DataDir, err)
	}
	printBuild(deps.Stdout, report)
	publish(deps, notify.NewEvent(notify.KindBuild, report.Paths(), report.Indexed), deps.Logger)
	return nil
}

func printBuild(out io.Writer, report *indexer.BuildReport) {
	fmt.Fprintf(out, "indexed %d transcripts (skipped %d) into %d shards in %s\n",
		report.Indexed, report.Skipped, len(report.Shards), report.Duration.Round(time.Millisecond))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tBYTES\tDOCS\tTOKENS")
	for _, s := range report.Shards {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", filepath.Base(s.Path), s.Size, s.Docs, s.Tokens)
	}
	tw.Flush()
}
