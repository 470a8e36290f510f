package executor_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
)

func TestLoader_ReusesUnchangedShard(t *testing.T) {
	t.Parallel()

	dir := buildIndex(t, false, corpus.Document{ID: "AAA-2020-1-1", Prepared: []string{"profit margin"}})
	m := metrics.New(nil)
	l, err := executor.NewLoader(4, logger.Discard(), m)
	require.NoError(t, err)

	first, err := l.Load(context.Background(), shard.Path(dir, 1))
	require.NoError(t, err)
	second, err := l.Load(context.Background(), shard.Path(dir, 1))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShardCacheHitsTotal))
}

func TestLoader_ReloadsRewrittenShard(t *testing.T) {
	t.Parallel()

	dir := buildIndex(t, false, corpus.Document{ID: "AAA-2020-1-1", Prepared: []string{"profit margin"}})
	other := buildIndex(t, false, corpus.Document{ID: "BBB-2020-1-2", Prepared: []string{"unexpected loss hit us"}})
	path := shard.Path(dir, 1)
	l, err := executor.NewLoader(4, logger.Discard(), nil)
	require.NoError(t, err)

	before, err := l.Load(context.Background(), path)
	require.NoError(t, err)

	data, err := os.ReadFile(shard.Path(other, 1))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	after, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, []string{"BBB-2020-1-2"}, after.DocIDs())
}

func TestLoader_Purge(t *testing.T) {
	t.Parallel()

	dir := buildIndex(t, false, corpus.Document{ID: "AAA-2020-1-1", Prepared: []string{"profit"}})
	l, err := executor.NewLoader(4, logger.Discard(), nil)
	require.NoError(t, err)
	first, err := l.Load(context.Background(), shard.Path(dir, 1))
	require.NoError(t, err)

	l.Purge()
	assert.Zero(t, l.Len())

	second, err := l.Load(context.Background(), shard.Path(dir, 1))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestLoader_DisabledCache(t *testing.T) {
	t.Parallel()

	dir := buildIndex(t, false, corpus.Document{ID: "AAA-2020-1-1", Prepared: []string{"profit"}})
	l, err := executor.NewLoader(0, logger.Discard(), nil)
	require.NoError(t, err)

	_, err = l.Load(context.Background(), shard.Path(dir, 1))
	require.NoError(t, err)
	assert.Zero(t, l.Len())
	l.Purge()
}

func TestLoader_MissingShard(t *testing.T) {
	t.Parallel()

	l, err := executor.NewLoader(4, logger.Discard(), nil)
	require.NoError(t, err)

	_, err = l.Load(context.Background(), shard.Path(t.TempDir(), 3))
	assert.ErrorContains(t, err, "index3.txt")
}

func TestEngine_WithLoaderSeesUpdates(t *testing.T) {
	t.Parallel()

	dir := buildIndex(t, false, corpus.Document{ID: "AAA-2020-1-1", Prepared: []string{"profit margin"}})
	l, err := executor.NewLoader(4, logger.Discard(), nil)
	require.NoError(t, err)
	e := executor.NewEngine(config.SearchConfig{DataDir: dir}, l, logger.Discard(), nil)

	res, err := e.Search(context.Background(), "unexpected loss")
	require.NoError(t, err)
	assert.Empty(t, res.Totals["unexpected loss"])

	other := buildIndex(t, false, corpus.Document{ID: "BBB-2020-1-2", Prepared: []string{"an unexpected loss"}})
	data, err := os.ReadFile(shard.Path(other, 1))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(shard.Path(dir, 1), data, 0644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(shard.Path(dir, 1), later, later))

	res, err = e.Search(context.Background(), "unexpected loss")
	require.NoError(t, err)
	assert.Len(t, res.Totals["unexpected loss"], 1)
}
