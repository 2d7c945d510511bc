// Command api serves the reading-list HTTP API.
//
// A submission writes a pending article to PostgreSQL and pushes one task
// message onto the Redis list the worker pool consumes. Clients poll the list
// endpoint until the worker has written the result back.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apimw "github.com/Adithya-Monish-Kumar-K/reading-list/internal/api/middleware"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/api/router"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/events"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/handler"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/queue"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/reconcile"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/store"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/submitter"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/task"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting api service",
		"port", cfg.Server.Port,
		"channel", cfg.Queue.Channel,
		"task", cfg.Queue.TaskName,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	if cfg.Postgres.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			slog.Error("failed to migrate schema", "error", err)
			os.Exit(1)
		}
	}

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to redis", "addr", cfg.Redis.Addr)

	articles := store.New(db)
	encoder := task.NewEncoder(task.Options{
		TaskName:   cfg.Queue.TaskName,
		Lang:       cfg.Queue.Lang,
		RoutingKey: cfg.Queue.RoutingKey,
	})
	bridge := queue.NewBridge(rdb, cfg.Queue.Channel)
	slog.Info("task channel ready", "channel", bridge.Channel(), "task", encoder.TaskName())

	var emitter events.Emitter = events.Nop{}
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ArticleEvents)
		defer producer.Close()
		breaker := resilience.NewCircuitBreaker("article-events", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		collector := events.NewBatchCollector(producer, events.CollectorConfig{
			BatchSize:     cfg.Kafka.BatchSize,
			FlushInterval: cfg.Kafka.FlushInterval,
			Breaker:       breaker,
			Metrics:       m,
		})
		collector.Start(ctx)
		defer collector.Close()
		emitter = collector
		slog.Info("lifecycle events enabled", "topic", cfg.Kafka.Topics.ArticleEvents)
	}

	sub := submitter.New(articles, encoder, bridge,
		submitter.WithMetrics(m),
		submitter.WithEmitter(emitter),
	)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db))
	checker.Register("redis", health.PingCheck(rdb))

	sweeper := reconcile.NewSweeper(articles, queue.NewAdmin(rdb, cfg.Queue.Channel), cfg.Reconcile.StaleAfter, m)
	go sweeper.Run(ctx, cfg.Reconcile.Interval)

	limiter := ratelimit.New(cfg.Auth.RateLimitWindow)
	go limiter.RunCleanup(ctx, 5*time.Minute)

	cors := apimw.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.AllowOrigins

	chain := router.New(router.Deps{
		Articles:       handler.New(sub),
		Health:         checker,
		Metrics:        m,
		Validator:      apikey.NewValidator(db),
		Limiter:        limiter,
		DefaultLimit:   cfg.Auth.DefaultRateLimit,
		CORS:           cors,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("api service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	stop()

	slog.Info("api service stopped")
}
