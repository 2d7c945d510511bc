package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/resilience"
)

// BatchPublisher writes a batch of events. *kafka.Producer implements it.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// CollectorConfig tunes batching. Zero values get defaults.
type CollectorConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// Breaker guards the publisher; nil disables it.
	Breaker *resilience.CircuitBreaker
	Metrics *metrics.Metrics
}

// BatchCollector buffers events in memory and flushes them when the batch is
// full or the interval elapses. Failed batches are kept, up to three batches'
// worth; older overflow is dropped and counted.
type BatchCollector struct {
	publisher     BatchPublisher
	breaker       *resilience.CircuitBreaker
	metrics       *metrics.Metrics
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []kafka.Event

	kick chan struct{}
	done chan struct{}
}

func NewBatchCollector(publisher BatchPublisher, cfg CollectorConfig) *BatchCollector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		breaker:       cfg.Breaker,
		metrics:       cfg.Metrics,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        slog.Default().With("component", "event-collector"),
		buffer:        make([]kafka.Event, 0, cfg.BatchSize),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. When ctx is cancelled the loop makes one
// final flush with a short deadline and exits.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				bc.flush(ctx)
			case <-bc.kick:
				bc.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("event collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Emit buffers ev keyed by article id so one article's events stay ordered
// within a partition.
func (bc *BatchCollector) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: ev.ArticleID, Value: ev})
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if full {
		select {
		case bc.kick <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop started by Start to exit.
func (bc *BatchCollector) Close() {
	<-bc.done
}

// BufferLen returns the number of events waiting to be flushed.
func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) flush(ctx context.Context) {
	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	publish := func() error { return bc.publisher.PublishBatch(ctx, batch) }
	var err error
	if bc.breaker != nil {
		err = bc.breaker.Execute(publish)
	} else {
		err = publish()
	}
	if err == nil {
		bc.logger.Debug("batch flushed", "events", len(batch))
		return
	}

	bc.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
	limit := bc.batchSize * 3
	bc.mu.Lock()
	bc.buffer = append(batch, bc.buffer...)
	dropped := 0
	if len(bc.buffer) > limit {
		dropped = len(bc.buffer) - limit
		bc.buffer = bc.buffer[dropped:]
	}
	bc.mu.Unlock()

	if dropped > 0 {
		bc.logger.Warn("event buffer overflow, oldest events dropped", "dropped", dropped)
		if bc.metrics != nil {
			bc.metrics.EventsDropped.Add(float64(dropped))
		}
	}
}
