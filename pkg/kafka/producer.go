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
)

// Event is one message to publish. Key picks the partition, Kind becomes
// the "kind" header and Value is encoded as JSON.
type Event struct {
	Key   string
	Kind  string
	Value any
}

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events synchronously, one per call.
type Producer struct {
	writer Writer
	logger *slog.Logger
}

// NewProducer writes to topic with acks from all replicas. The writer makes
// a single attempt; callers retry.
func NewProducer(cfg config.KafkaConfig, topic string, log *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            1,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewProducerFromWriter(w, topic, log)
}

func NewProducerFromWriter(w Writer, topic string, log *slog.Logger) *Producer {
	return &Producer{
		writer: w,
		logger: logger.WithComponent(log, "kafka-producer").With("topic", topic),
	}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Time:  time.Now(),
	}
	if event.Kind != "" {
		msg.Headers = []kafka.Header{{Key: kindHeader, Value: []byte(event.Kind)}}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s event: %w", event.Kind, err)
	}
	p.logger.Debug("event published", "key", event.Key, "kind", event.Kind, "value_size", len(value))
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
