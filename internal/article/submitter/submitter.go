// Package submitter runs the submission flow: persist a pending record, encode
// its task and push it to the worker channel. The record is written before the
// task is pushed and is not rolled back when the push fails, so a failed
// submission can leave a record pending with no task behind it.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/events"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/task"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/tracing"
)

// RecordStore is the persistence port. *store.Store implements it.
type RecordStore interface {
	Create(ctx context.Context, rec article.Record) error
	ListByOwner(ctx context.Context, ownerID string) ([]article.Record, error)
	Get(ctx context.Context, id string) (*article.Record, error)
	DeleteByID(ctx context.Context, id string) error
}

// TaskQueue is the channel port. *queue.Bridge implements it.
type TaskQueue interface {
	Push(ctx context.Context, payload []byte) error
}

// Stage marks how far a submission got.
type Stage string

const (
	StageStart         Stage = "start"
	StageRecordCreated Stage = "record_created"
	StageTaskEncoded   Stage = "task_encoded"
	StageTaskEnqueued  Stage = "task_enqueued"
)

type Option func(*Submitter)

func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Submitter) { s.newID = newID }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

func WithEmitter(e events.Emitter) Option {
	return func(s *Submitter) { s.emitter = e }
}

type Submitter struct {
	store   RecordStore
	encoder *task.Encoder
	queue   TaskQueue
	metrics *metrics.Metrics
	emitter events.Emitter
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

func New(store RecordStore, enc *task.Encoder, queue TaskQueue, opts ...Option) *Submitter {
	s := &Submitter{
		store:   store,
		encoder: enc,
		queue:   queue,
		emitter: events.Nop{},
		now:     time.Now,
		newID:   article.NewID,
		logger:  slog.Default().With("component", "submitter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit creates a pending record for url and enqueues one task for it.
//
// Invalid input fails with ErrEncoding before anything is written. A store
// failure returns ErrPersistence and nothing is enqueued. Once the record
// exists, an encoding or queue failure is returned as is and the record stays
// pending.
func (s *Submitter) Submit(ctx context.Context, ownerID, url string) (rec *article.Record, err error) {
	ctx, span := tracing.Start(ctx, "submit")
	defer func() { span.End(ctx, err) }()
	log := logger.FromContext(ctx).With("component", "submitter", "owner_id", ownerID)

	id := s.newID()
	if err := task.Validate(id, url); err != nil {
		s.observe(metrics.OutcomeEncodingError)
		log.Warn("submission rejected", "stage", StageStart, "error", err)
		return nil, err
	}

	created := article.NewRecord(ownerID, url, id, s.now())
	span.SetAttr("article_id", created.ID)
	pctx, persist := tracing.Start(ctx, "persist")
	err = s.store.Create(pctx, created)
	persist.End(pctx, err)
	if err != nil {
		s.observe(metrics.OutcomePersistenceError)
		log.Error("creating record failed", "stage", StageStart, "error", err)
		return nil, ensure(apperrors.ErrPersistence, err, "creating article")
	}
	log = log.With("article_id", created.ID)
	log.Debug("record created", "stage", StageRecordCreated)

	if err := s.enqueue(ctx, log, created); err != nil {
		s.stuck(ctx, log, created, err)
		return nil, err
	}

	s.observe(metrics.OutcomeEnqueued)
	s.emit(ctx, events.TypeSubmitted, created, nil)
	log.Info("article submitted", "stage", StageTaskEnqueued, "url", created.URL)
	return &created, nil
}

// Requeue pushes a fresh task for a record that is still pending. It is the
// operator's recovery path for records left behind by a failed push.
func (s *Submitter) Requeue(ctx context.Context, id string) (*article.Record, error) {
	log := logger.FromContext(ctx).With("component", "submitter", "article_id", id)

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != article.StatusPending {
		return nil, fmt.Errorf("%w: article %s is %s", apperrors.ErrInvalidState, id, rec.Status)
	}
	if err := s.enqueue(ctx, log, *rec); err != nil {
		log.Warn("requeue failed", "error", err)
		return nil, err
	}

	s.emit(ctx, events.TypeRequeued, *rec, nil)
	log.Info("article requeued", "stage", StageTaskEnqueued)
	return rec, nil
}

// List returns the owner's records newest first, read from the store on
// every call.
func (s *Submitter) List(ctx context.Context, ownerID string) ([]article.Record, error) {
	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, ensure(apperrors.ErrPersistence, err, "listing articles")
	}
	if records == nil {
		records = []article.Record{}
	}
	return records, nil
}

// Delete removes the record with id whoever owns it. A queued task for it is
// left in place; the worker's later write-back finds no record.
func (s *Submitter) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return ensure(apperrors.ErrPersistence, err, "deleting article")
	}
	if s.metrics != nil {
		s.metrics.ArticlesDeleted.Inc()
	}
	s.emit(ctx, events.TypeDeleted, article.Record{ID: id}, nil)
	logger.FromContext(ctx).Info("article deleted", "component", "submitter", "article_id", id)
	return nil
}

func (s *Submitter) enqueue(ctx context.Context, log *slog.Logger, rec article.Record) (err error) {
	ctx, span := tracing.Start(ctx, "enqueue")
	defer func() { span.End(ctx, err) }()

	msg, err := s.encoder.Encode(rec.ID, rec.URL)
	if err != nil {
		return ensure(apperrors.ErrEncoding, err, "encoding task")
	}
	payload, err := msg.Marshal()
	if err != nil {
		return ensure(apperrors.ErrEncoding, err, "marshalling task")
	}
	log.Debug("task encoded", "stage", StageTaskEncoded, "task_id", msg.Headers.ID)
	span.SetAttr("task_id", msg.Headers.ID)

	start := time.Now()
	err = s.queue.Push(ctx, payload)
	if s.metrics != nil {
		s.metrics.EnqueueDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return ensure(apperrors.ErrQueueUnavailable, err, "pushing task")
	}
	return nil
}

func (s *Submitter) stuck(ctx context.Context, log *slog.Logger, rec article.Record, err error) {
	if errors.Is(err, apperrors.ErrEncoding) {
		s.observe(metrics.OutcomeEncodingError)
	} else {
		s.observe(metrics.OutcomeQueueUnavailable)
	}
	log.Warn("article stuck in pending", "stage", StageRecordCreated, "error", err)
	s.emit(ctx, events.TypeEnqueueFailed, rec, err)
}

func (s *Submitter) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Submitter) emit(ctx context.Context, typ events.Type, rec article.Record, cause error) {
	ev := events.Event{
		Type:      typ,
		ArticleID: rec.ID,
		OwnerID:   rec.OwnerID,
		URL:       rec.URL,
		RequestID: logger.RequestID(ctx),
		Timestamp: s.now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	s.emitter.Emit(ev)
}

// ensure wraps err with sentinel unless it already carries it.
func ensure(sentinel, err error, msg string) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return apperrors.Wrap(sentinel, err, msg)
}
