package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/notify"
)

// UpdateCmd is the "update" subcommand.
type UpdateCmd struct {
	SourceFlags `embed:""`

	Create bool `help:"Build from scratch without asking when no index exists."`
	Yes    bool `short:"y" help:"Answer yes to every prompt."`
}

func (c *UpdateCmd) Run(deps *Dependencies) error {
	src, err := c.open(deps)
	if err != nil {
		return err
	}
	dir := deps.Config.Indexer.DataDir
	opts := indexer.UpdateOptions{
		Confirm: func() bool {
			if c.Create || c.Yes {
				return true
			}
			return confirm(deps.Stdin, deps.Stderr, fmt.Sprintf("No index found in %s. Build one from scratch?", dir))
		},
	}
	u := indexer.NewUpdater(indexer.NewBuilder(deps.Config.Indexer, deps.Logger, deps.Metrics))
	report, err := u.Update(deps.Ctx, src, opts)
	if err != nil {
		return fmt.Errorf("updating index in %s: %w", dir, err)
	}

	switch {
	case report.Created:
		printBuild(deps.Stdout, report.Build)
	case report.Added == 0:
		fmt.Fprintf(deps.Stdout, "index is up to date: %d known transcripts, %d skipped\n", report.Known, report.Skipped)
	default:
		fmt.Fprintf(deps.Stdout, "added %d transcripts to %s (%d known, %d skipped) in %s\n",
			report.Added, filepath.Base(report.Shard), report.Known, report.Skipped, report.Duration.Round(time.Millisecond))
	}
	publish(deps, notify.NewEvent(notify.KindUpdate, report.Shards(), report.Added), deps.Logger)
	return nil
}
