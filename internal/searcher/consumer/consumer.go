// Package consumer reads index-complete events from Kafka and drops the
// searcher's cached results and decoded shards so the next query sees the
// rewritten index.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/notify"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
)

// Invalidator is satisfied by *cache.QueryCache.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// Purger is satisfied by *executor.Loader.
type Purger interface {
	Purge()
}

// IndexConsumer wraps a Kafka consumer of the index-complete topic.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer, log *slog.Logger) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent(log, "index-consumer"),
	}
}

// Start consumes events until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that purges loader and invalidates
// cache for every index event. Either may be nil. Events of an unknown kind
// and undecodable values are logged and skipped; a failed invalidation is
// returned so the consumer retries it.
func HandleMessage(cache Invalidator, loader Purger, log *slog.Logger) kafka.MessageHandler {
	log = logger.WithComponent(log, "index-consumer")
	return func(ctx context.Context, msg kafka.Message) error {
		switch msg.Kind {
		case notify.KindBuild, notify.KindUpdate, "":
		default:
			log.Debug("ignoring event", "kind", msg.Kind)
			return nil
		}
		event, err := kafka.DecodeJSON[notify.IndexEvent](msg.Value)
		if err != nil {
			log.Error("failed to decode index event",
				"error", err,
				"key", string(msg.Key),
				"offset", msg.Offset,
			)
			return nil
		}
		log.Debug("processing index event",
			"kind", event.Kind,
			"dir", event.Dir,
			"shards", event.Shards,
		)
		if loader != nil {
			loader.Purge()
		}
		var deleted int64
		if cache != nil {
			deleted, err = cache.Invalidate(ctx)
			if err != nil {
				return fmt.Errorf("invalidating cache after %s of %s: %w", event.Kind, event.Dir, err)
			}
		}
		log.Info("index change applied",
			"kind", event.Kind,
			"shards", len(event.Shards),
			"added", event.Added,
			"cache_keys_deleted", deleted,
		)
		return nil
	}
}
