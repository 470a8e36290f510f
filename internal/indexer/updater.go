package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
)

// UpdateOptions controls what Update does when the index does not exist
// yet. Confirm is asked whether to build from scratch; nil means no.
type UpdateOptions struct {
	Confirm func() bool
}

// UpdateReport summarises an incremental update.
type UpdateReport struct {
	Shard    string        `json:"shard,omitempty"`
	Added    int           `json:"added"`
	Known    int           `json:"known"`
	Skipped  int           `json:"skipped"`
	Created  bool          `json:"created"`
	Build    *BuildReport  `json:"build,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Shards lists the shard files the update wrote.
func (r *UpdateReport) Shards() []string {
	if r.Build != nil {
		return r.Build.Paths()
	}
	if r.Added == 0 || r.Shard == "" {
		return nil
	}
	return []string{r.Shard}
}

// Updater adds documents that no shard covers yet to the last shard.
type Updater struct {
	builder *Builder
	logger  *slog.Logger
}

func NewUpdater(b *Builder) *Updater {
	return &Updater{
		builder: b,
		logger:  logger.WithComponent(b.logger, "updater"),
	}
}

// Update loads every shard, indexes the documents of src whose ids none of
// them cover into the highest-numbered shard and rewrites that shard. With
// no shards on disk it builds from scratch if opts.Confirm agrees, and
// otherwise fails with ErrNotUpdated.
func (u *Updater) Update(ctx context.Context, src corpus.Source, opts UpdateOptions) (*UpdateReport, error) {
	start := time.Now()
	dir := u.builder.cfg.DataDir
	lock, err := shard.Acquire(dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	paths, err := shard.Discover(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		missing := &apperrors.ShardNotFoundError{Path: shard.Path(dir, 1)}
		if opts.Confirm == nil || !opts.Confirm() {
			u.logger.Warn("no index to update", "data_dir", dir)
			return nil, fmt.Errorf("%w: %w", apperrors.ErrNotUpdated, missing)
		}
		u.logger.Info("no index found, building from scratch", "data_dir", dir)
		build, err := u.builder.build(ctx, src)
		if err != nil {
			return nil, err
		}
		return &UpdateReport{
			Added:    build.Indexed,
			Skipped:  build.Skipped,
			Created:  true,
			Build:    build,
			Duration: time.Since(start),
		}, nil
	}

	stores, err := loadShards(ctx, paths)
	if err != nil {
		return nil, err
	}
	covered := make(map[string]struct{})
	for _, s := range stores {
		for _, id := range s.DocIDs() {
			covered[id] = struct{}{}
		}
	}
	lastPath := paths[len(paths)-1]
	lastN, _ := shard.Number(lastPath)
	last := stores[len(stores)-1]
	u.logger.Info("index loaded",
		"shards", len(paths),
		"documents", len(covered),
		"target", filepath.Base(lastPath),
	)

	report := &UpdateReport{Shard: lastPath}
	for doc, err := range src.Documents(ctx) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			if u.builder.skipSourceError(err) {
				report.Skipped++
				continue
			}
			return report, fmt.Errorf("reading corpus: %w", err)
		}
		id := doc.Key()
		if _, ok := covered[id]; ok {
			report.Known++
			continue
		}
		if _, err := u.builder.IndexDocument(last, doc); err != nil {
			u.builder.skipDocument(id, err)
			report.Skipped++
			continue
		}
		covered[id] = struct{}{}
		report.Added++
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if report.Added == 0 {
		report.Duration = time.Since(start)
		u.logger.Info("index already up to date", "known", report.Known, "skipped", report.Skipped)
		return report, nil
	}
	if _, err := u.builder.writeShard(lastN, last); err != nil {
		return report, err
	}
	report.Duration = time.Since(start)
	u.builder.metrics.SetActiveShards(len(paths))
	u.logger.Info("index updated",
		"shard", filepath.Base(lastPath),
		"added", report.Added,
		"known", report.Known,
		"skipped", report.Skipped,
		"duration", report.Duration,
	)
	return report, nil
}

// loadShards decodes every shard in parallel, each into its own store.
func loadShards(ctx context.Context, paths []string) ([]*index.Store, error) {
	stores := make([]*index.Store, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := segment.ReadFile(p)
			if err != nil {
				return fmt.Errorf("loading shard %s: %w", filepath.Base(p), err)
			}
			stores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stores, nil
}
