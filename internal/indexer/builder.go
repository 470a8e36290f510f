// Package indexer builds and incrementally updates the sharded phrase index
// of a transcript corpus.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
)

// ShardReport describes a shard file after its last write.
type ShardReport struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Docs   int    `json:"docs"`
	Tokens int    `json:"tokens"`
}

// BuildReport summarises a from-scratch build.
type BuildReport struct {
	Shards   []ShardReport `json:"shards"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

func (r *BuildReport) recordShard(sr ShardReport) {
	for i := range r.Shards {
		if r.Shards[i].Path == sr.Path {
			r.Shards[i] = sr
			return
		}
	}
	r.Shards = append(r.Shards, sr)
}

// Paths lists the shard files the build wrote.
func (r *BuildReport) Paths() []string {
	paths := make([]string, len(r.Shards))
	for i, s := range r.Shards {
		paths[i] = s.Path
	}
	return paths
}

// Builder turns a corpus into shard files under cfg.DataDir.
type Builder struct {
	cfg     config.IndexerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBuilder creates a Builder. m may be nil.
func NewBuilder(cfg config.IndexerConfig, log *slog.Logger, m *metrics.Metrics) *Builder {
	return &Builder{
		cfg:     cfg,
		logger:  logger.WithComponent(log, "indexer"),
		metrics: m,
	}
}

// Build indexes src from scratch, replacing any shards with the same
// numbers. It holds the index directory lock while running.
func (b *Builder) Build(ctx context.Context, src corpus.Source) (*BuildReport, error) {
	lock, err := shard.Acquire(b.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return b.build(ctx, src)
}

func (b *Builder) build(ctx context.Context, src corpus.Source) (*BuildReport, error) {
	start := time.Now()
	report := &BuildReport{}
	n := 1
	current := index.NewStore()
	seen := make(map[string]struct{})
	sinceCheckpoint := 0
	dirty := false
	written := false

	b.logger.Info("index build started",
		"data_dir", b.cfg.DataDir,
		"checkpoint_every", b.cfg.CheckpointEvery,
		"shard_max_bytes", b.cfg.ShardMaxBytes,
	)

	for doc, err := range src.Documents(ctx) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			if b.skipSourceError(err) {
				report.Skipped++
				continue
			}
			return report, fmt.Errorf("reading corpus: %w", err)
		}
		id := doc.Key()
		if _, dup := seen[id]; dup {
			b.logger.Warn("duplicate document skipped", "doc_id", id)
			b.metrics.DocSkipped("duplicate")
			report.Skipped++
			continue
		}
		if _, err := b.IndexDocument(current, doc); err != nil {
			b.skipDocument(id, err)
			report.Skipped++
			continue
		}
		seen[id] = struct{}{}
		report.Indexed++
		dirty = true
		sinceCheckpoint++

		if b.cfg.CheckpointEvery > 0 && sinceCheckpoint >= b.cfg.CheckpointEvery {
			sinceCheckpoint = 0
			removed, _ := current.Prune(b.cfg.PruneMinCount)
			b.metrics.TokensPruned(removed)
			sr, err := b.writeShard(n, current)
			if err != nil {
				return report, err
			}
			report.recordShard(sr)
			written, dirty = true, false
			if sr.Size >= b.cfg.ShardMaxBytes {
				b.logger.Info("shard reached size limit, rolling over",
					"shard", filepath.Base(sr.Path),
					"size", sr.Size,
					"limit", b.cfg.ShardMaxBytes,
				)
				n++
				current = index.NewStore()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if dirty || !written {
		sr, err := b.writeShard(n, current)
		if err != nil {
			return report, err
		}
		report.recordShard(sr)
	}
	report.Duration = time.Since(start)
	b.metrics.SetActiveShards(len(report.Shards))
	b.logger.Info("index build complete",
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"shards", len(report.Shards),
		"duration", report.Duration,
	)
	return report, nil
}

// IndexDocument tokenises doc and merges its unigram and bigram postings
// into store. Positions count every token of the stream, including tokens
// that cannot be stored; a bigram is recorded at the position of its second
// token only when both tokens were stored. It returns the number of stored
// unigram occurrences.
func (b *Builder) IndexDocument(store *index.Store, doc corpus.Document) (int, error) {
	id := doc.Key()
	if tokenizer.IsReserved(id) {
		return 0, &apperrors.EncodingConflictError{Field: "doc_id", Value: id}
	}
	offset := 0
	for row := range doc.Text() {
		if err := tokenizer.Validate(row); err != nil {
			var decodeErr *apperrors.DecodeError
			if errors.As(err, &decodeErr) {
				return 0, &apperrors.DecodeError{DocID: id, Offset: offset + decodeErr.Offset}
			}
			return 0, err
		}
		offset += len(row)
	}

	local := index.NewStore()
	tokens := 0
	prev, prevStored := "", false
	for pos, token := range tokenizer.Stream(doc.Text()) {
		if tokenizer.IsReserved(token) {
			prevStored = false
			continue
		}
		local.Record(token, id, pos)
		if prevStored {
			local.Record(prev+" "+token, id, pos)
		}
		prev, prevStored = token, true
		tokens++
	}
	store.Merge(local)
	b.metrics.DocIndexed()
	b.logger.Debug("document indexed",
		"doc_id", id,
		"tokens", tokens,
		"vocabulary", store.Vocabulary(),
	)
	return tokens, nil
}

// writeShard consolidates store and writes it as shard n.
func (b *Builder) writeShard(n int, store *index.Store) (ShardReport, error) {
	path := shard.Path(b.cfg.DataDir, n)
	store.Compact()
	for _, err := range store.DropConflicts() {
		b.logger.Warn("dropping unencodable entry", "shard", filepath.Base(path), "error", err)
	}
	before := store.Vocabulary()
	if rounds := store.Finalize(b.cfg.MaxVocabSize, b.cfg.MinCount); rounds > 0 {
		b.metrics.TokensPruned(before - store.Vocabulary())
		b.logger.Info("vocabulary finalised",
			"shard", filepath.Base(path),
			"rounds", rounds,
			"before", before,
			"after", store.Vocabulary(),
		)
	}

	size, err := segment.WriteFile(path, store)
	b.metrics.ShardWritten(filepath.Base(path), size, err)
	if err != nil {
		b.logger.Error("shard write failed", "shard", filepath.Base(path), "error", err)
		return ShardReport{}, fmt.Errorf("writing shard %d: %w", n, err)
	}
	sr := ShardReport{
		Path:   path,
		Size:   size,
		Docs:   store.DocCount(),
		Tokens: store.Vocabulary(),
	}
	b.logger.Info("shard written",
		"shard", filepath.Base(path),
		"size", sr.Size,
		"docs", sr.Docs,
		"tokens", sr.Tokens,
	)
	return sr, nil
}

// skipSourceError reports whether err only affects one record.
func (b *Builder) skipSourceError(err error) bool {
	var recErr *corpus.RecordError
	if !errors.As(err, &recErr) {
		return false
	}
	reason := "source"
	if errors.Is(recErr, apperrors.ErrDecode) {
		reason = "decode"
	}
	b.logger.Warn("unreadable record skipped", "record", recErr.Record, "reason", reason, "error", recErr.Err)
	b.metrics.DocSkipped(reason)
	return true
}

func (b *Builder) skipDocument(id string, err error) {
	reason := "other"
	switch {
	case errors.Is(err, apperrors.ErrDecode):
		reason = "decode"
	case errors.Is(err, apperrors.ErrEncodingConflict):
		reason = "encoding_conflict"
	}
	b.logger.Warn("document skipped", "doc_id", id, "reason", reason, "error", err)
	b.metrics.DocSkipped(reason)
}
