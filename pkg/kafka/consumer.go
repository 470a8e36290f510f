// Package kafka carries index-complete events between the indexer and the
// searchers over segmentio/kafka-go. Values are JSON; the event kind also
// travels as a "kind" header so consumers can filter without decoding.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/resilience"
)

const kindHeader = "kind"

// Message is one consumed event.
type Message struct {
	Key       []byte
	Value     []byte
	Kind      string
	Partition int
	Offset    int64
	Time      time.Time
}

type MessageHandler func(ctx context.Context, msg Message) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer hands every message of one topic to a MessageHandler and commits
// it afterwards. A failing handler is retried with Backoff; once the
// attempts run out the message is logged and committed so one bad event
// cannot stall the partition.
type Consumer struct {
	reader  Reader
	handler MessageHandler
	logger  *slog.Logger
	Backoff resilience.Backoff
}

// NewConsumer joins cfg.ConsumerGroup on topic, starting from the newest
// offset: searchers only care about changes made after they started.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	return NewConsumerFromReader(r, topic, handler, log)
}

func NewConsumerFromReader(r Reader, topic string, handler MessageHandler, log *slog.Logger) *Consumer {
	log = logger.WithComponent(log, "kafka-consumer").With("topic", topic)
	return &Consumer{
		reader:  r,
		handler: handler,
		logger:  log,
		Backoff: resilience.Backoff{
			Attempts: 5,
			Initial:  200 * time.Millisecond,
			Max:      5 * time.Second,
			Logger:   log,
		},
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		msg := toMessage(raw)
		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "kind", msg.Kind)
		log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))
		err = resilience.Retry(ctx, "handle "+msg.Kind+" event", c.Backoff, func(ctx context.Context) error {
			return c.handler(ctx, msg)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("giving up on message", "error", err)
		}
		if err := c.reader.CommitMessages(ctx, raw); err != nil && ctx.Err() == nil {
			log.Error("failed to commit message", "error", err)
		}
	}
}

func toMessage(m kafka.Message) Message {
	msg := Message{
		Key:       m.Key,
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
		Time:      m.Time,
	}
	for _, h := range m.Headers {
		if h.Key == kindHeader {
			msg.Kind = string(h.Value)
		}
	}
	return msg
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
