// Command resultsink applies worker results published on the article-results
// topic to the article store. Workers that write to the store directly do not
// need it.
//
// Usage:
//
//	go run ./cmd/resultsink [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/results"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/store"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/postgres"
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
	if !cfg.Kafka.Enabled() {
		slog.Error("kafka.brokers is empty; nothing to consume")
		os.Exit(1)
	}
	slog.Info("starting result sink",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topics.ArticleResults,
		"group", cfg.Kafka.ConsumerGroup,
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(m, cfg.Metrics.Port)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(ctx)
		}()
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			slog.Error("failed to migrate schema", "error", err)
			os.Exit(1)
		}
	}

	sink := results.NewSink(store.New(db), m)
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.Topics.ArticleResults, sink.Handle)
	defer consumer.Close()

	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("result sink stopped")
}
