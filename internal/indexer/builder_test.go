package indexer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
)

func testConfig(t *testing.T) config.IndexerConfig {
	t.Helper()
	return config.IndexerConfig{
		DataDir:         filepath.Join(t.TempDir(), "index"),
		ShardMaxBytes:   100_000_000,
		CheckpointEvery: 1000,
		PruneMinCount:   2,
		MinCount:        5,
	}
}

func doc(ticker string, day int, rows ...string) corpus.Document {
	return corpus.Document{
		Ticker:   ticker,
		Date:     time.Date(2020, time.January, day, 0, 0, 0, 0, time.UTC),
		Prepared: rows,
	}
}

func twoDocCorpus() corpus.SliceSource {
	return corpus.SliceSource{
		doc("AAA", 1, "the profit margin was strong"),
		doc("BBB", 2, "an unexpected loss hit profit"),
	}
}

func n(word string) string { return tokenizer.Normalize(word) }

func TestBuild_EndToEndTwoDocuments(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	b := indexer.NewBuilder(cfg, logger.Discard(), nil)

	report, err := b.Build(context.Background(), twoDocCorpus())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Indexed)
	assert.Zero(t, report.Skipped)
	require.Len(t, report.Shards, 1)
	assert.Equal(t, shard.Path(cfg.DataDir, 1), report.Shards[0].Path)
	assert.Equal(t, 2, report.Shards[0].Docs)

	store, err := segment.ReadFile(shard.Path(cfg.DataDir, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA-2020-1-1", "BBB-2020-1-2"}, store.DocIDs())
	assert.Equal(t, []int{1}, store.Positions(n("profit"), "AAA-2020-1-1"))
	assert.Equal(t, []int{4}, store.Positions(n("profit"), "BBB-2020-1-2"))
	assert.Equal(t, []int{2}, store.Positions(n("profit")+" "+n("margin"), "AAA-2020-1-1"))
	assert.Equal(t, []int{2}, store.Positions(n("unexpected")+" "+n("loss"), "BBB-2020-1-2"))
}

func TestIndexDocument_BigramPositionConvention(t *testing.T) {
	t.Parallel()

	b := indexer.NewBuilder(testConfig(t), logger.Discard(), nil)
	store := index.NewStore()
	_, err := b.IndexDocument(store, doc("CCC", 3,
		"Profit, margin improved; the margin of profit",
		"grew: profit margin grew"))
	require.NoError(t, err)

	for _, token := range store.Tokens() {
		first, second, isBigram := strings.Cut(token, " ")
		if !isBigram {
			continue
		}
		for _, p := range store.Positions(token, "CCC-2020-1-3") {
			assert.Contains(t, store.Positions(first, "CCC-2020-1-3"), p-1, "bigram %q at %d", token, p)
			assert.Contains(t, store.Positions(second, "CCC-2020-1-3"), p, "bigram %q at %d", token, p)
		}
	}

	// "," sits between profit(0) and margin(2) and breaks the pair.
	assert.Equal(t, []int{0}, store.Positions(n("profit"), "CCC-2020-1-3")[:1])
	assert.Equal(t, []int{2}, store.Positions(n("margin"), "CCC-2020-1-3")[:1])
	pm := store.Positions(n("profit")+" "+n("margin"), "CCC-2020-1-3")
	assert.NotContains(t, pm, 2)
	assert.Len(t, pm, 1)

	for _, token := range store.Tokens() {
		assert.False(t, tokenizer.IsReserved(token), "reserved token %q stored", token)
	}
}

func TestBuild_ShardingTrigger(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.CheckpointEvery = 1
	cfg.ShardMaxBytes = 1
	cfg.PruneMinCount = 0
	b := indexer.NewBuilder(cfg, logger.Discard(), nil)

	src := corpus.SliceSource{
		doc("AAA", 1, "profit margin"),
		doc("BBB", 2, "unexpected loss"),
		doc("CCC", 3, "profit margin again"),
	}
	report, err := b.Build(context.Background(), src)
	require.NoError(t, err)

	paths, err := shard.Discover(cfg.DataDir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, report.Paths(), paths)

	for i, id := range []string{"AAA-2020-1-1", "BBB-2020-1-2", "CCC-2020-1-3"} {
		store, err := segment.ReadFile(paths[i])
		require.NoError(t, err)
		assert.Equal(t, []string{id}, store.DocIDs(), "shard %d", i+1)
	}
}

func TestBuild_CheckpointPrunesRareTokens(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.CheckpointEvery = 2
	b := indexer.NewBuilder(cfg, logger.Discard(), nil)

	src := corpus.SliceSource{
		doc("AAA", 1, "profit margin rare"),
		doc("BBB", 2, "profit margin"),
	}
	_, err := b.Build(context.Background(), src)
	require.NoError(t, err)

	store, err := segment.ReadFile(shard.Path(cfg.DataDir, 1))
	require.NoError(t, err)
	assert.Nil(t, store.Lookup(n("rare")))
	assert.Equal(t, 2, store.Frequency(n("profit")+" "+n("margin")))
}

func TestBuild_SkipsBadDocuments(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	m := metrics.New(nil)
	b := indexer.NewBuilder(cfg, logger.Discard(), m)

	src := corpus.SliceSource{
		doc("AAA", 1, "the profit margin"),
		doc("BAD", 2, "valid row", "broken \xff row"),
		{ID: "NYSE:CCC-2020-1-3", Prepared: []string{"profit"}},
		doc("AAA", 1, "duplicate transcript"),
		doc("DDD", 4, "unexpected loss"),
	}
	report, err := b.Build(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 3, report.Skipped)

	store, err := segment.ReadFile(shard.Path(cfg.DataDir, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA-2020-1-1", "DDD-2020-1-4"}, store.DocIDs())
	assert.Nil(t, store.Lookup(n("duplicate")))

	for _, reason := range []string{"decode", "encoding_conflict", "duplicate"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DocsSkippedTotal.WithLabelValues(reason)), reason)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocsIndexedTotal))
}

func TestIndexDocument_DecodeErrorOffset(t *testing.T) {
	t.Parallel()

	b := indexer.NewBuilder(testConfig(t), logger.Discard(), nil)

	_, err := b.IndexDocument(index.NewStore(), doc("BAD", 2, "valid row", "broken \xff row"))

	var decodeErr *apperrors.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "BAD-2020-1-2", decodeErr.DocID)
	assert.Equal(t, len("valid row")+len("broken "), decodeErr.Offset)
}

func TestBuild_EmptyCorpusWritesEmptyShard(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	b := indexer.NewBuilder(cfg, logger.Discard(), nil)

	report, err := b.Build(context.Background(), corpus.SliceSource{})
	require.NoError(t, err)

	require.Len(t, report.Shards, 1)
	assert.Zero(t, report.Shards[0].Size)
	_, err = os.Stat(shard.Path(cfg.DataDir, 1))
	assert.NoError(t, err)
}

func TestBuild_CancelledContext(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	b := indexer.NewBuilder(cfg, logger.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, twoDocCorpus())

	assert.ErrorIs(t, err, context.Canceled)
	paths, err := shard.Discover(cfg.DataDir)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestBuild_RefusesLockedDirectory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	lock, err := shard.Acquire(cfg.DataDir)
	require.NoError(t, err)
	defer lock.Release()

	_, err = indexer.NewBuilder(cfg, logger.Discard(), nil).Build(context.Background(), twoDocCorpus())

	assert.True(t, errors.Is(err, apperrors.ErrIndexLocked))
}

func BenchmarkIndexDocument(b *testing.B) {
	builder := indexer.NewBuilder(config.IndexerConfig{DataDir: b.TempDir()}, logger.Discard(), nil)
	d := doc("AAA", 1,
		"Good morning and thank you for joining our fourth quarter earnings call.",
		"Our profit margin expanded by two hundred basis points despite an unexpected loss in one segment.",
	)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store := index.NewStore()
		if _, err := builder.IndexDocument(store, d); err != nil {
			b.Fatal(err)
		}
	}
}
