package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/articletest"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/events"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/task"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store   *articletest.MemStore
	queue   *articletest.Queue
	emitter *recordingEmitter
	metrics *metrics.Metrics
	sub     *Submitter
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   articletest.NewMemStore(),
		queue:   &articletest.Queue{},
		emitter: &recordingEmitter{},
		metrics: metrics.New(nil),
	}
	opts = append([]Option{WithEmitter(f.emitter), WithMetrics(f.metrics)}, opts...)
	f.sub = New(f.store, task.NewEncoder(task.Options{}), f.queue, opts...)
	return f
}

func decodeArgs(t *testing.T, payload []byte) []string {
	t.Helper()
	var msg task.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("payload is not a task message: %v", err)
	}
	args, kwargs, embed, err := task.DecodeBody(msg.Body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if len(kwargs) != 0 || len(embed) != 0 {
		t.Errorf("expected empty kwargs and embed, got %v %v", kwargs, embed)
	}
	return args
}

func TestSubmitCreatesPendingRecordAndPushesTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.sub.Submit(ctx, "u1", "https://example.com/a")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != article.StatusPending || rec.Title != article.PlaceholderTitle {
		t.Errorf("unexpected record state %+v", rec)
	}
	if rec.Topics == nil || len(rec.Topics) != 0 || rec.Summary != nil {
		t.Errorf("expected empty topics and no summary, got %+v", rec)
	}
	if rec.ID == "" || rec.OwnerID != "u1" || rec.URL != "https://example.com/a" {
		t.Errorf("unexpected identity fields %+v", rec)
	}

	payloads := f.queue.Payloads()
	if len(payloads) != 1 {
		t.Fatalf("expected exactly one pushed message, got %d", len(payloads))
	}
	args := decodeArgs(t, payloads[0])
	if len(args) != 2 || args[0] != rec.ID || args[1] != "https://example.com/a" {
		t.Errorf("body args = %v, want [%s https://example.com/a]", args, rec.ID)
	}

	if got := testutil.ToFloat64(f.metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeEnqueued)); got != 1 {
		t.Errorf("enqueued counter = %v", got)
	}
	if types := f.emitter.types(); len(types) != 1 || types[0] != events.TypeSubmitted {
		t.Errorf("events = %v", types)
	}
}

func TestSubmitIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec, err := f.sub.Submit(context.Background(), "u1", "https://example.com/same")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true
	}
	if len(f.queue.Payloads()) != 50 {
		t.Errorf("resubmissions must enqueue independent tasks")
	}
}

func TestSubmitQueueFailureLeavesPendingRecord(t *testing.T) {
	f := newFixture(t)
	f.queue.Err = errors.New("connection refused")
	ctx := context.Background()

	rec, err := f.sub.Submit(ctx, "u1", "https://example.com/a")
	if !errors.Is(err, apperrors.ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
	if rec != nil {
		t.Errorf("no record should be returned on failure, got %+v", rec)
	}

	list, err := f.sub.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Status != article.StatusPending {
		t.Fatalf("expected the orphaned record to be listed as pending, got %+v", list)
	}

	if got := testutil.ToFloat64(f.metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeQueueUnavailable)); got != 1 {
		t.Errorf("queue_unavailable counter = %v", got)
	}
	types := f.emitter.types()
	if len(types) != 1 || types[0] != events.TypeEnqueueFailed {
		t.Errorf("events = %v", types)
	}
	if f.emitter.events[0].ArticleID != list[0].ID || f.emitter.events[0].Error == "" {
		t.Errorf("enqueue_failed event should carry id and cause: %+v", f.emitter.events[0])
	}
}

func TestSubmitStoreFailureSkipsQueue(t *testing.T) {
	f := newFixture(t)
	f.store.CreateErr = errors.New("connection reset")

	_, err := f.sub.Submit(context.Background(), "u1", "https://example.com/a")
	if !errors.Is(err, apperrors.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(f.queue.Payloads()) != 0 {
		t.Error("nothing may be enqueued when the record was not created")
	}
	if len(f.emitter.types()) != 0 {
		t.Error("no lifecycle event expected")
	}
}

func TestSubmitInvalidInputHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	for _, url := range []string{"", "https://example.com/\xff"} {
		_, err := f.sub.Submit(context.Background(), "u1", url)
		if !errors.Is(err, apperrors.ErrEncoding) {
			t.Errorf("Submit(%q): expected ErrEncoding, got %v", url, err)
		}
	}
	if f.store.Len() != 0 || len(f.queue.Payloads()) != 0 {
		t.Error("invalid input must not touch store or queue")
	}
}

func TestSubmitConcurrentSameOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	recs := make([]*article.Record, 2)
	errs := make([]error, 2)
	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i], errs[i] = f.sub.Submit(ctx, "u1", fmt.Sprintf("https://example.com/%d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if recs[0].ID == recs[1].ID {
		t.Error("concurrent submissions must get distinct ids")
	}

	payloads := f.queue.Payloads()
	if len(payloads) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(payloads))
	}
	var a, b task.Message
	_ = json.Unmarshal(payloads[0], &a)
	_ = json.Unmarshal(payloads[1], &b)
	if a.Headers.ID == b.Headers.ID || a.Properties.DeliveryTag == b.Properties.DeliveryTag {
		t.Error("messages must be independently nonced")
	}
	ids := map[string]bool{decodeArgs(t, payloads[0])[0]: true, decodeArgs(t, payloads[1])[0]: true}
	if !ids[recs[0].ID] || !ids[recs[1].ID] {
		t.Errorf("each record needs its own message, got %v", ids)
	}
}

func TestListOrderingAndIsolation(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f := newFixture(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()

	var want []string
	for i := 1; i <= 3; i++ {
		rec, err := f.sub.Submit(ctx, "A", fmt.Sprintf("https://example.com/t%d", i))
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		want = append([]string{rec.ID}, want...)
	}
	if _, err := f.sub.Submit(ctx, "B", "https://example.com/b"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := f.sub.List(ctx, "A")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("owner A should see 3 records, got %d", len(got))
	}
	for i, rec := range got {
		if rec.OwnerID != "A" {
			t.Errorf("record of owner %s leaked into A's list", rec.OwnerID)
		}
		if rec.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, rec.ID, want[i])
		}
	}

	none, err := f.sub.List(ctx, "C")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("unknown owner should get an empty list, got %#v, %v", none, err)
	}
}

func TestListAfterSubmitSeesRecordWhileEarlierListRuns(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.store.ListGate = gate
	ctx := context.Background()

	earlier := make(chan []article.Record, 1)
	go func() {
		recs, err := f.sub.List(ctx, "u1")
		if err != nil {
			t.Errorf("earlier List: %v", err)
		}
		earlier <- recs
	}()
	deadline := time.Now().Add(2 * time.Second)
	for f.store.Calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("earlier List never reached the store")
		}
		time.Sleep(time.Millisecond)
	}

	rec, err := f.sub.Submit(ctx, "u1", "https://example.com/fresh")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := make(chan struct{})
	var later []article.Record
	go func() {
		defer close(done)
		later, err = f.sub.List(ctx, "u1")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(gate)
		t.Fatal("List after Submit waited on the earlier read")
	}
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(later) != 1 || later[0].ID != rec.ID {
		t.Errorf("List after Submit of %s returned %v", rec.ID, later)
	}

	close(gate)
	if got := <-earlier; len(got) != 0 {
		t.Errorf("earlier List should hold its own snapshot, got %d records", len(got))
	}
}

func TestListIgnoresOtherCallersCancellation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.sub.Submit(context.Background(), "u1", "https://example.com/a"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	gate := make(chan struct{})
	f.store.ListGate = gate

	cancelled, cancel := context.WithCancel(context.Background())
	go f.sub.List(cancelled, "u1")
	deadline := time.Now().Add(2 * time.Second)
	for f.store.Calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first List never reached the store")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	recs, err := f.sub.List(context.Background(), "u1")
	close(gate)
	if err != nil {
		t.Fatalf("List with live context failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}
}

func TestListStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.ListErr = errors.New("timeout")
	if _, err := f.sub.List(context.Background(), "u1"); !errors.Is(err, apperrors.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep, _ := f.sub.Submit(ctx, "u1", "https://example.com/keep")
	gone, _ := f.sub.Submit(ctx, "u2", "https://example.com/gone")

	if err := f.sub.Delete(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.store.Len() != 2 {
		t.Fatal("failed delete must leave the store unchanged")
	}

	if err := f.sub.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.store.Get(ctx, gone.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Error("record should be gone")
	}
	if _, err := f.store.Get(ctx, keep.ID); err != nil {
		t.Error("other records must survive")
	}
	if got := testutil.ToFloat64(f.metrics.ArticlesDeleted); got != 1 {
		t.Errorf("deleted counter = %v", got)
	}
	if len(f.queue.Payloads()) != 2 {
		t.Error("delete must not touch queued tasks")
	}
}

func TestRequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.queue.Err = errors.New("down")
	if _, err := f.sub.Submit(ctx, "u1", "https://example.com/a"); err == nil {
		t.Fatal("expected push failure")
	}
	f.queue.Err = nil
	orphan, _ := f.sub.List(ctx, "u1")

	rec, err := f.sub.Requeue(ctx, orphan[0].ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	payloads := f.queue.Payloads()
	if len(payloads) != 1 || decodeArgs(t, payloads[0])[0] != rec.ID {
		t.Errorf("expected one message for the requeued record, got %d", len(payloads))
	}

	if _, err := f.store.ApplyResult(ctx, rec.ID, article.Result{Status: article.StatusCompleted, Title: "t"}); err != nil {
		t.Fatalf("ApplyResult: %v", err)
	}
	if _, err := f.sub.Requeue(ctx, rec.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for completed record, got %v", err)
	}
	if _, err := f.sub.Requeue(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
