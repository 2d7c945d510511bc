// Package articletest provides in-memory stand-ins for the record store and
// task channel, for tests of packages that sit on top of them.
package articletest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
)

type row struct {
	rec article.Record
	seq int
}

// MemStore keeps records in a map and orders them the way the PostgreSQL
// store does.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]row
	seq  int

	// CreateErr, when set, is returned by Create without storing anything.
	CreateErr error
	// ListErr, when set, is returned by ListByOwner.
	ListErr error
	// ListCalls counts ListByOwner invocations.
	ListCalls int
	// ListGate, when set, makes the next ListByOwner hold its rows until the
	// channel is closed. Later calls are not held.
	ListGate chan struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]row)}
}

func (m *MemStore) Create(ctx context.Context, rec article.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.rows[rec.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", apperrors.ErrPersistence, rec.ID)
	}
	m.seq++
	m.rows[rec.ID] = row{rec: clone(rec), seq: m.seq}
	return nil
}

func (m *MemStore) ListByOwner(ctx context.Context, ownerID string) ([]article.Record, error) {
	m.mu.Lock()
	m.ListCalls++
	gate := m.ListGate
	m.ListGate = nil
	if m.ListErr != nil {
		m.mu.Unlock()
		return nil, m.ListErr
	}
	var rows []row
	for _, r := range m.rows {
		if r.rec.OwnerID == ownerID {
			rows = append(rows, r)
		}
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].rec.CreatedAt.Equal(rows[j].rec.CreatedAt) {
			return rows[i].rec.CreatedAt.After(rows[j].rec.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]article.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, clone(r.rec))
	}
	if gate != nil {
		<-gate
	}
	return out, nil
}

// Calls returns how many times ListByOwner has run.
func (m *MemStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListCalls
}

func (m *MemStore) Get(ctx context.Context, id string) (*article.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: article %s", apperrors.ErrNotFound, id)
	}
	rec := clone(r.rec)
	return &rec, nil
}

func (m *MemStore) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("%w: article %s", apperrors.ErrNotFound, id)
	}
	delete(m.rows, id)
	return nil
}

func (m *MemStore) ApplyResult(ctx context.Context, id string, res article.Result) (bool, error) {
	res = res.Normalize()
	if !article.StatusPending.CanTransition(res.Status) {
		return false, fmt.Errorf("%w: cannot move article to %q", apperrors.ErrInvalidState, res.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.rec.Status != article.StatusPending {
		return false, nil
	}
	r.rec.Status = res.Status
	summary := res.Summary
	r.rec.Summary = &summary
	if res.Status == article.StatusCompleted {
		r.rec.Title = res.Title
		r.rec.Topics = append([]string{}, res.Topics...)
	}
	m.rows[id] = r
	return true, nil
}

func (m *MemStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]article.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []row
	for _, r := range m.rows {
		if r.rec.Status == article.StatusPending && r.rec.CreatedAt.Before(cutoff) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].rec.CreatedAt.Equal(rows[j].rec.CreatedAt) {
			return rows[i].rec.CreatedAt.Before(rows[j].rec.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]article.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, clone(r.rec))
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Queue records pushed payloads in order.
type Queue struct {
	mu       sync.Mutex
	payloads [][]byte
	// Err, when set, fails every Push.
	Err error
}

func (q *Queue) Push(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.payloads = append(q.payloads, append([]byte(nil), payload...))
	return nil
}

// Payloads returns a copy of everything pushed so far.
func (q *Queue) Payloads() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.payloads))
	copy(out, q.payloads)
	return out
}

func clone(rec article.Record) article.Record {
	if rec.Topics != nil {
		rec.Topics = append([]string{}, rec.Topics...)
	}
	if rec.Summary != nil {
		s := *rec.Summary
		rec.Summary = &s
	}
	return rec
}
