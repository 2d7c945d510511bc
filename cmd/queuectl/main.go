package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/queue"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/reconcile"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/store"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/submitter"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/task"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/resilience"
)

// queuectl is the operator tool for the task channel.
//
// Usage:
//
//	queuectl depth
//	queuectl peek    [-n 10]
//	queuectl purge   [-yes]
//	queuectl stale   [-older-than 15m]
//	queuectl requeue -id <article-id>
//	queuectl inspect -id <article-id>
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var runErr error
	switch args[0] {
	case "depth":
		runErr = cmdDepth(ctx, cfg)
	case "peek":
		runErr = cmdPeek(ctx, cfg, args[1:])
	case "purge":
		runErr = cmdPurge(ctx, cfg, args[1:])
	case "stale":
		runErr = cmdStale(ctx, cfg, args[1:])
	case "requeue":
		runErr = cmdRequeue(ctx, cfg, args[1:])
	case "inspect":
		runErr = cmdInspect(ctx, cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", args[0], runErr)
		os.Exit(1)
	}
}

func connectRedis(cfg *config.Config) (*redis.Client, error) {
	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

func connectStore(cfg *config.Config) (*postgres.Client, *store.Store, error) {
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, store.New(db), nil
}

func newEncoder(cfg *config.Config) *task.Encoder {
	return task.NewEncoder(task.Options{
		TaskName:   cfg.Queue.TaskName,
		Lang:       cfg.Queue.Lang,
		RoutingKey: cfg.Queue.RoutingKey,
	})
}

func cmdDepth(ctx context.Context, cfg *config.Config) error {
	rdb, err := connectRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	n, err := queue.NewAdmin(rdb, cfg.Queue.Channel).Depth(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d message(s) waiting\n", cfg.Queue.Channel, n)
	return nil
}

// cmdPeek shows the next n messages the workers will take, oldest first.
func cmdPeek(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("peek", flag.ExitOnError)
	n := fs.Int64("n", 10, "number of messages to show")
	fs.Parse(args)

	rdb, err := connectRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	items, err := queue.NewAdmin(rdb, cfg.Queue.Channel).Peek(ctx, *n)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Printf("%s is empty.\n", cfg.Queue.Channel)
		return nil
	}

	fmt.Printf("%-3s  %-36s  %-36s  %s\n", "#", "Task ID", "Article ID", "URL")
	for i, raw := range items {
		var msg task.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			fmt.Printf("%-3d  (unreadable message: %v)\n", i+1, err)
			continue
		}
		taskArgs, _, _, err := task.DecodeBody(msg.Body)
		if err != nil || len(taskArgs) != 2 {
			fmt.Printf("%-3d  %-36s  (unreadable body)\n", i+1, msg.Headers.ID)
			continue
		}
		fmt.Printf("%-3d  %-36s  %-36s  %s\n", i+1, msg.Headers.ID, taskArgs[0], taskArgs[1])
	}
	return nil
}

func cmdPurge(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip the confirmation check")
	fs.Parse(args)

	rdb, err := connectRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	admin := queue.NewAdmin(rdb, cfg.Queue.Channel)
	if !*yes {
		n, err := admin.Depth(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s holds %d message(s). Re-run with -yes to drop them.\n", cfg.Queue.Channel, n)
		return nil
	}

	n, err := admin.Purge(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Dropped %d message(s) from %s.\n", n, cfg.Queue.Channel)
	fmt.Println("Their articles stay pending; use `queuectl stale` to find them.")
	return nil
}

func cmdStale(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("stale", flag.ExitOnError)
	olderThan := fs.Duration("older-than", cfg.Reconcile.StaleAfter, "minimum age of a pending article")
	fs.Parse(args)

	db, articles, err := connectStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var depth reconcile.DepthReader
	if rdb, err := connectRedis(cfg); err != nil {
		slog.Warn("queue depth unavailable", "error", err)
	} else {
		defer rdb.Close()
		depth = queue.NewAdmin(rdb, cfg.Queue.Channel)
	}

	report, err := reconcile.NewSweeper(articles, depth, *olderThan, nil).Sweep(ctx)
	if err != nil {
		return err
	}
	if len(report.Stale) == 0 {
		fmt.Printf("No pending articles older than %s.\n", *olderThan)
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-25s  %s\n", "ID", "Owner", "Created", "URL")
	for _, rec := range report.Stale {
		fmt.Printf("%-36s  %-20s  %-25s  %s\n", rec.ID, rec.OwnerID, rec.CreatedAt.Format(time.RFC3339), rec.URL)
	}
	fmt.Printf("\n%d stale article(s); %d message(s) on %s.\n", len(report.Stale), report.QueueDepth, cfg.Queue.Channel)
	return nil
}

func cmdRequeue(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("requeue", flag.ExitOnError)
	id := fs.String("id", "", "article id")
	fs.Parse(args)
	if *id == "" {
		return errors.New("-id is required")
	}

	db, articles, err := connectStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	rdb, err := connectRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	bridge := queue.NewBridge(rdb, cfg.Queue.Channel)
	sub := submitter.New(articles, newEncoder(cfg), bridge)
	err = resilience.Retry(ctx, "requeue", resilience.RetryConfig{
		MaxAttempts: 3,
		Retryable: func(err error) bool {
			return errors.Is(err, apperrors.ErrQueueUnavailable)
		},
	}, func(ctx context.Context) error {
		_, err := sub.Requeue(ctx, *id)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("Requeued %s on %s.\n", *id, bridge.Channel())
	return nil
}

// cmdInspect prints the message a requeue would push, without pushing it.
func cmdInspect(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	id := fs.String("id", "", "article id")
	fs.Parse(args)
	if *id == "" {
		return errors.New("-id is required")
	}

	db, articles, err := connectStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := articles.Get(ctx, *id)
	if err != nil {
		return err
	}
	enc := newEncoder(cfg)
	msg, err := enc.Encode(rec.ID, rec.URL)
	if err != nil {
		return err
	}
	decoded, _, _, err := task.DecodeBody(msg.Body)
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	out.SetEscapeHTML(false)
	fmt.Printf("Article %s (%s, created %s)\n", rec.ID, rec.Status, rec.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Task %s, decoded args: %q\n\n", enc.TaskName(), decoded)
	return out.Encode(msg)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: queuectl <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  depth     Show how many tasks are waiting")
	fmt.Fprintln(os.Stderr, "  peek      Show the next tasks workers will take")
	fmt.Fprintln(os.Stderr, "  purge     Drop every waiting task")
	fmt.Fprintln(os.Stderr, "  stale     List articles pending longer than a threshold")
	fmt.Fprintln(os.Stderr, "  requeue   Push a new task for a pending article")
	fmt.Fprintln(os.Stderr, "  inspect   Print the task message for an article")
}
