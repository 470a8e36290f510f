package executor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
)

// ShardLoader returns the decoded store of a shard file.
type ShardLoader interface {
	Load(ctx context.Context, path string) (*index.Store, error)
}

type cachedShard struct {
	fingerprint uint64
	store       *index.Store
}

// Loader decodes shards and keeps the most recently used ones in memory.
// A cached store is reused only while the file's path, size and mtime
// fingerprint is unchanged, so rewritten shards are picked up on the next
// query.
type Loader struct {
	cache   *lru.Cache[string, cachedShard]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLoader creates a Loader holding up to size stores; size <= 0 disables
// caching and every Load decodes the file.
func NewLoader(size int, log *slog.Logger, m *metrics.Metrics) (*Loader, error) {
	l := &Loader{
		logger:  logger.WithComponent(log, "shard-loader"),
		metrics: m,
	}
	if size > 0 {
		cache, err := lru.New[string, cachedShard](size)
		if err != nil {
			return nil, fmt.Errorf("creating shard cache: %w", err)
		}
		l.cache = cache
	}
	return l, nil
}

func (l *Loader) Load(ctx context.Context, path string) (*index.Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &apperrors.ShardNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("stat shard: %w", err)
	}
	fp := fingerprint(path, info.Size(), info.ModTime().UnixNano())
	if l.cache != nil {
		if c, ok := l.cache.Get(path); ok && c.fingerprint == fp {
			l.metrics.ShardCacheHit()
			return c.store, nil
		}
	}

	v, err, shared := l.group.Do(path+"@"+strconv.FormatUint(fp, 16), func() (any, error) {
		return segment.ReadFile(path)
	})
	if err != nil {
		return nil, err
	}
	store := v.(*index.Store)
	if l.cache != nil && !shared {
		l.cache.Add(path, cachedShard{fingerprint: fp, store: store})
	}
	l.logger.Debug("shard decoded",
		"shard", path,
		"tokens", store.Vocabulary(),
		"docs", store.DocCount(),
		"shared", shared,
	)
	return store, nil
}

// Purge drops every cached store.
func (l *Loader) Purge() {
	if l.cache != nil {
		l.cache.Purge()
		l.logger.Info("shard cache purged")
	}
}

// Len is the number of cached stores.
func (l *Loader) Len() int {
	if l.cache == nil {
		return 0
	}
	return l.cache.Len()
}

func fingerprint(path string, size, mtime int64) uint64 {
	d := xxhash.New()
	d.WriteString(path)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(size))
	binary.LittleEndian.PutUint64(buf[8:], uint64(mtime))
	d.Write(buf[:])
	return d.Sum64()
}
