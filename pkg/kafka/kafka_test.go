package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerPublishBatch(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "article-events")

	err := p.PublishBatch(context.Background(), []Event{
		{Key: "a", Value: map[string]string{"type": "submitted"}},
		{Key: "b", Value: map[string]string{"type": "deleted"}},
	})
	if err != nil {
		t.Fatalf("PublishBatch returned error: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "a" {
		t.Errorf("unexpected key %q", w.msgs[0].Key)
	}
	var v map[string]string
	if err := json.Unmarshal(w.msgs[1].Value, &v); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if v["type"] != "deleted" {
		t.Errorf("unexpected value %v", v)
	}
}

func TestProducerPublishError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "t")
	if err := p.Publish(context.Background(), Event{Key: "k", Value: 1}); err == nil {
		t.Fatal("expected error")
	}
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`first`)},
		{Offset: 2, Value: []byte(`flaky`)},
		{Offset: 3, Value: []byte(`third`)},
	}}

	var (
		mu             sync.Mutex
		seen           []string
		commitsAtRetry = -1
		failed         bool
	)
	handled := make(chan struct{}, 8)
	c := newConsumer(r, "article-results", func(ctx context.Context, key, value []byte) error {
		defer func() { handled <- struct{}{} }()
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(value))
		if string(value) != "flaky" {
			return nil
		}
		if !failed {
			failed = true
			return errors.New("store unavailable")
		}
		r.mu.Lock()
		commitsAtRetry = len(r.committed)
		r.mu.Unlock()
		return nil
	})
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	for i := 0; i < 4; i++ {
		select {
		case <-handled:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []string{"first", "flaky", "flaky", "third"}; !slices.Equal(seen, want) {
		t.Errorf("handled %v, want %v", seen, want)
	}
	if commitsAtRetry != 1 {
		t.Errorf("%d commits before the failed message was retried, want 1", commitsAtRetry)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if want := []int64{1, 2, 3}; !slices.Equal(r.committed, want) {
		t.Errorf("commits %v, want %v", r.committed, want)
	}
}

func TestConsumerStopsWithoutCommittingFailingMessage(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 7, Value: []byte(`bad`)},
		{Offset: 8, Value: []byte(`ok`)},
	}}
	attempts := make(chan struct{}, 16)
	c := newConsumer(r, "article-results", func(ctx context.Context, key, value []byte) error {
		if string(value) == "ok" {
			t.Error("later message handled while an earlier one keeps failing")
		}
		select {
		case attempts <- struct{}{}:
		default:
		}
		return errors.New("rejected")
	})
	c.backoff = time.Millisecond
	c.maxBackoff = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for retries")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.committed) != 0 {
		t.Errorf("unexpected commits %v", r.committed)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		ID string `json:"id"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"id":"x"}`))
	if err != nil || got.ID != "x" {
		t.Fatalf("DecodeJSON = %+v, %v", got, err)
	}
	if _, err := DecodeJSON[payload]([]byte(`{`)); err == nil {
		t.Fatal("expected decode error")
	}
}
