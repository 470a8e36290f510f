// Package notify announces finished index builds and updates so searchers
// can drop cached results and decoded shards.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/resilience"
)

const (
	KindBuild  = "build"
	KindUpdate = "update"
)

// IndexEvent is published on the index-complete topic. Shards holds the
// base names of the shard files that were rewritten.
type IndexEvent struct {
	Kind   string    `json:"kind"`
	Dir    string    `json:"dir"`
	Shards []string  `json:"shards"`
	Added  int       `json:"added"`
	At     time.Time `json:"at"`
}

// NewEvent builds an event for the shard paths written by a build or update.
func NewEvent(kind string, paths []string, added int) IndexEvent {
	ev := IndexEvent{Kind: kind, Added: added, At: time.Now().UTC()}
	for _, p := range paths {
		if ev.Dir == "" {
			ev.Dir = filepath.Dir(p)
		}
		ev.Shards = append(ev.Shards, filepath.Base(p))
	}
	return ev
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Notifier publishes IndexEvents with retry. A nil *Notifier drops every
// event, which is how the indexer runs without Kafka.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
	retry  resilience.Backoff
}

func New(pub Publisher, log *slog.Logger) *Notifier {
	log = logger.WithComponent(log, "index-notifier")
	return &Notifier{
		pub:    pub,
		logger: log,
		retry: resilience.Backoff{
			Attempts: 4,
			Initial:  250 * time.Millisecond,
			Max:      5 * time.Second,
			Logger:   log,
		},
	}
}

// Publish sends ev, keyed by the index directory so events for one index
// stay ordered on a partition.
func (n *Notifier) Publish(ctx context.Context, ev IndexEvent) error {
	if n == nil || n.pub == nil {
		return nil
	}
	if len(ev.Shards) == 0 {
		n.logger.Debug("nothing written, no event published", "kind", ev.Kind)
		return nil
	}
	err := resilience.Retry(ctx, "publish-index-event", n.retry, func(ctx context.Context) error {
		return n.pub.Publish(ctx, kafka.Event{Key: ev.Dir, Kind: ev.Kind, Value: ev})
	})
	if err != nil {
		return fmt.Errorf("publishing index event: %w", err)
	}
	n.logger.Info("index event published", "kind", ev.Kind, "shards", ev.Shards, "added", ev.Added)
	return nil
}
