package kafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/resilience"
)

type fakeReader struct {
	msgs chan segkafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...segkafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan segkafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (segkafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return segkafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...segkafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func message(offset int64, kind, value string) segkafka.Message {
	return segkafka.Message{
		Offset:  offset,
		Key:     []byte("index"),
		Value:   []byte(value),
		Headers: []segkafka.Header{{Key: "kind", Value: []byte(kind)}},
	}
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	t.Parallel()

	reader := newFakeReader(message(1, "build", `{"n":1}`), message(2, "update", `{"n":2}`))
	ctx, cancel := context.WithCancel(context.Background())
	var got []kafka.Message
	c := kafka.NewConsumerFromReader(reader, "index.complete", func(_ context.Context, msg kafka.Message) error {
		got = append(got, msg)
		if len(got) == 2 {
			cancel()
		}
		return nil
	}, logger.Discard())

	require.NoError(t, c.Start(ctx))

	require.Len(t, got, 2)
	assert.Equal(t, "build", got[0].Kind)
	assert.Equal(t, "update", got[1].Kind)
	assert.Equal(t, []byte(`{"n":2}`), got[1].Value)
	assert.Contains(t, reader.commits(), int64(1))
	assert.True(t, reader.closed)
}

func TestConsumer_RetriesThenSkipsPoisonMessage(t *testing.T) {
	t.Parallel()

	reader := newFakeReader(message(7, "update", `{}`), message(8, "update", `{}`))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	attempts := map[int64]int{}
	c := kafka.NewConsumerFromReader(reader, "index.complete", func(_ context.Context, msg kafka.Message) error {
		attempts[msg.Offset]++
		if msg.Offset == 7 {
			return errors.New("redis down")
		}
		cancel()
		return nil
	}, logger.Discard())
	c.Backoff = resilience.Backoff{Attempts: 3, Initial: time.Millisecond}

	require.NoError(t, c.Start(ctx))

	assert.Equal(t, 3, attempts[7])
	assert.Equal(t, 1, attempts[8])
	assert.Equal(t, int64(7), reader.commits()[0], "a message that keeps failing is committed so later events flow")
}

type fakeWriter struct {
	msgs []segkafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...segkafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := kafka.NewProducerFromWriter(w, "index.complete", logger.Discard())

	err := p.Publish(context.Background(), kafka.Event{
		Key:   "data/index",
		Kind:  "update",
		Value: map[string]any{"shards": []string{"index2.txt"}},
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "data/index", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"shards":["index2.txt"]}`, string(w.msgs[0].Value))
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "kind", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "update", string(w.msgs[0].Headers[0].Value))
}

func TestProducer_Errors(t *testing.T) {
	t.Parallel()

	p := kafka.NewProducerFromWriter(&fakeWriter{err: errors.New("no brokers")}, "t", nil)
	assert.ErrorContains(t, p.Publish(context.Background(), kafka.Event{Kind: "build", Value: 1}), "publishing build event")

	p = kafka.NewProducerFromWriter(&fakeWriter{}, "t", nil)
	assert.ErrorContains(t, p.Publish(context.Background(), kafka.Event{Kind: "build", Value: make(chan int)}), "encoding build event")
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	v, err := kafka.DecodeJSON[struct{ Added int }]([]byte(`{"Added":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3, v.Added)

	_, err = kafka.DecodeJSON[struct{}]([]byte("{"))
	assert.ErrorContains(t, err, "decoding kafka message")
}
