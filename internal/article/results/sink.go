// Package results applies worker outcomes read from the article-results topic
// to the record store.
package results

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/resilience"
)

// Applier writes one result onto a pending record. *store.Store implements it.
type Applier interface {
	ApplyResult(ctx context.Context, id string, res article.Result) (bool, error)
}

type Sink struct {
	store   Applier
	metrics *metrics.Metrics
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

func NewSink(store Applier, m *metrics.Metrics) *Sink {
	return &Sink{
		store:   store,
		metrics: m,
		retry: resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Retryable: func(err error) bool {
				return errors.Is(err, apperrors.ErrPersistence)
			},
		},
		logger: slog.Default().With("component", "result-sink"),
	}
}

// Handle is a kafka.MessageHandler. Malformed or invalid results are logged
// and acknowledged so they do not block the partition. Store outages are
// retried and then returned; the consumer redelivers the same message until
// it applies.
func (s *Sink) Handle(ctx context.Context, key, value []byte) error {
	res, err := kafka.DecodeJSON[article.Result](value)
	if err != nil {
		s.logger.Error("discarding malformed result", "key", string(key), "error", err)
		return nil
	}
	if res.ArticleID == "" {
		res.ArticleID = string(key)
	}
	if res.ArticleID == "" || !article.StatusPending.CanTransition(res.Status) {
		s.logger.Error("discarding invalid result", "article_id", res.ArticleID, "status", res.Status)
		return nil
	}

	var applied bool
	err = resilience.Retry(ctx, "apply-result", s.retry, func(ctx context.Context) error {
		var err error
		applied, err = s.store.ApplyResult(ctx, res.ArticleID, res)
		return err
	})
	if err != nil {
		s.logger.Error("applying result failed", "article_id", res.ArticleID, "error", err)
		return err
	}

	if s.metrics != nil {
		s.metrics.ResultsApplied.WithLabelValues(string(res.Status), strconv.FormatBool(applied)).Inc()
	}
	if !applied {
		s.logger.Info("result had no pending record", "article_id", res.ArticleID, "status", res.Status)
		return nil
	}
	s.logger.Info("result applied", "article_id", res.ArticleID, "status", res.Status)
	return nil
}
