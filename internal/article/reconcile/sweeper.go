// Package reconcile reports records that have stayed pending longer than a
// worker should need. It never requeues on its own; recovery is an operator
// decision made through queuectl.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
)

type StaleLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time) ([]article.Record, error)
}

// DepthReader reports how many tasks are waiting on the channel.
type DepthReader interface {
	Depth(ctx context.Context) (int64, error)
}

// Report is the outcome of one sweep.
type Report struct {
	Cutoff     time.Time        `json:"cutoff"`
	Stale      []article.Record `json:"stale"`
	QueueDepth int64            `json:"queue_depth"`
}

type Sweeper struct {
	store      StaleLister
	depth      DepthReader
	staleAfter time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *slog.Logger
}

// NewSweeper builds a Sweeper. depth and m may be nil.
func NewSweeper(store StaleLister, depth DepthReader, staleAfter time.Duration, m *metrics.Metrics) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Sweeper{
		store:      store,
		depth:      depth,
		staleAfter: staleAfter,
		metrics:    m,
		now:        time.Now,
		logger:     slog.Default().With("component", "reconcile"),
	}
}

// Sweep lists pending records older than the threshold and refreshes the
// stale-pending and queue-depth gauges. A depth failure is logged, not
// returned.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	cutoff := s.now().Add(-s.staleAfter).UTC()
	stale, err := s.store.ListStalePending(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	report := &Report{Cutoff: cutoff, Stale: stale, QueueDepth: -1}

	if s.depth != nil {
		if n, err := s.depth.Depth(ctx); err != nil {
			s.logger.Warn("reading queue depth failed", "error", err)
		} else {
			report.QueueDepth = n
		}
	}

	if s.metrics != nil {
		s.metrics.StalePending.Set(float64(len(stale)))
		if report.QueueDepth >= 0 {
			s.metrics.QueueDepth.Set(float64(report.QueueDepth))
		}
	}
	if len(stale) > 0 {
		s.logger.Warn("stale pending articles", "count", len(stale), "oldest", stale[0].CreatedAt, "queue_depth", report.QueueDepth)
	}
	return report, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("reconcile loop started", "interval", interval, "stale_after", s.staleAfter)

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("reconcile loop stopped")
			return
		case <-ticker.C:
		}
	}
}
