package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/resilience"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
	calls   int
}

func (f *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestCollectorFlushesFullBatch(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, CollectorConfig{BatchSize: 2, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Emit(Event{Type: TypeSubmitted, ArticleID: "a1"})
	bc.Emit(Event{Type: TypeEnqueueFailed, ArticleID: "a2", Error: "redis down"})

	deadline := time.Now().Add(2 * time.Second)
	for pub.published() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := pub.published(); got != 2 {
		t.Fatalf("expected 2 published events, got %d", got)
	}

	cancel()
	bc.Close()

	ev := pub.batches[0][1]
	if ev.Key != "a2" {
		t.Errorf("events should be keyed by article id, got %q", ev.Key)
	}
	raw, err := json.Marshal(ev.Value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeEnqueueFailed || decoded.Error != "redis down" || decoded.Timestamp.IsZero() {
		t.Errorf("unexpected event %+v", decoded)
	}
}

func TestCollectorFinalFlushOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, CollectorConfig{BatchSize: 100, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Emit(Event{Type: TypeDeleted, ArticleID: "a1"})
	cancel()
	bc.Close()

	if got := pub.published(); got != 1 {
		t.Errorf("expected buffered event to be flushed on shutdown, got %d", got)
	}
	if bc.BufferLen() != 0 {
		t.Errorf("buffer should be empty, got %d", bc.BufferLen())
	}
}

func TestCollectorBoundsBufferOnFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	m := metrics.New(nil)
	bc := NewBatchCollector(pub, CollectorConfig{BatchSize: 2, FlushInterval: time.Hour, Metrics: m})

	for i := 0; i < 10; i++ {
		bc.Emit(Event{Type: TypeSubmitted, ArticleID: "a"})
		bc.flush(context.Background())
	}

	if got := bc.BufferLen(); got != 6 {
		t.Errorf("buffer should be capped at 3 batches, got %d", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped); got != 4 {
		t.Errorf("expected 4 dropped events, got %v", got)
	}
}

func TestCollectorBreakerSkipsPublisher(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	cb := resilience.NewCircuitBreaker("events", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	bc := NewBatchCollector(pub, CollectorConfig{BatchSize: 10, FlushInterval: time.Hour, Breaker: cb})

	for i := 0; i < 5; i++ {
		bc.Emit(Event{Type: TypeSubmitted, ArticleID: "a"})
		bc.flush(context.Background())
	}

	if cb.GetState() != resilience.StateOpen {
		t.Fatalf("expected breaker open, got %s", cb.GetState())
	}
	if pub.calls != 2 {
		t.Errorf("publisher should be skipped once the breaker opens, calls=%d", pub.calls)
	}
	if got := bc.BufferLen(); got != 5 {
		t.Errorf("events should stay buffered, got %d", got)
	}
}

func TestNopEmitter(t *testing.T) {
	var e Emitter = Nop{}
	e.Emit(Event{Type: TypeSubmitted})
}
