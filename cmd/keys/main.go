package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/store"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/postgres"
)

// keys manages the API keys that identify article owners.
//
// Usage:
//
//	keys create -owner <owner-id> -name "laptop" [-rate-limit 120] [-expires-in 720h]
//	keys revoke -key <raw-key>
//	keys list   [-owner <owner-id>]
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

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if cfg.Postgres.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			slog.Error("failed to migrate schema", "error", err)
			os.Exit(1)
		}
	}
	validator := apikey.NewValidator(db)

	switch args[0] {
	case "create":
		cmdCreate(ctx, validator, cfg.Auth.DefaultRateLimit, args[1:])
	case "revoke":
		cmdRevoke(ctx, validator, args[1:])
	case "list":
		cmdList(ctx, validator, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdCreate(ctx context.Context, v *apikey.Validator, defaultLimit int, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	owner := fs.String("owner", "", "owner the key acts for")
	name := fs.String("name", "", "label for the key")
	rateLimit := fs.Int("rate-limit", defaultLimit, "requests per window")
	expiresIn := fs.String("expires-in", "", "expiry duration, e.g. 720h (optional)")
	fs.Parse(args)

	if *owner == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "error: -owner and -name are required")
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *expiresIn != "" {
		d, err := time.ParseDuration(*expiresIn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -expires-in: %v\n", err)
			os.Exit(1)
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	key, err := v.CreateKey(ctx, *owner, *name, *rateLimit, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("API key created. It is shown only once.")
	fmt.Println()
	fmt.Printf("  Key:        %s\n", key)
	fmt.Printf("  Owner:      %s\n", *owner)
	fmt.Printf("  Name:       %s\n", *name)
	fmt.Printf("  Rate Limit: %d\n", *rateLimit)
	if expiresAt != nil {
		fmt.Printf("  Expires:    %s\n", expiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("  Expires:    never")
	}
}

func cmdRevoke(ctx context.Context, v *apikey.Validator, args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	key := fs.String("key", "", "raw api key to revoke")
	fs.Parse(args)

	if *key == "" {
		fmt.Fprintln(os.Stderr, "error: -key is required")
		os.Exit(1)
	}
	if err := v.RevokeKey(ctx, *key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to revoke key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("API key revoked.")
}

func cmdList(ctx context.Context, v *apikey.Validator, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	owner := fs.String("owner", "", "only keys of this owner")
	fs.Parse(args)

	keys, err := v.ListKeys(ctx, *owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list keys: %v\n", err)
		os.Exit(1)
	}
	if len(keys) == 0 {
		fmt.Println("No active API keys.")
		return
	}

	fmt.Printf("%-6s  %-24s  %-20s  %-10s  %s\n", "ID", "Owner", "Name", "Rate Limit", "Expires")
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-6d  %-24s  %-20s  %-10d  %s\n", k.ID, k.OwnerID, k.Name, k.RateLimit, expires)
	}
	fmt.Printf("\nTotal: %d active key(s)\n", len(keys))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: keys <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create   Issue a key for an owner")
	fmt.Fprintln(os.Stderr, "  revoke   Deactivate a key")
	fmt.Fprintln(os.Stderr, "  list     List active keys")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, `  keys create -owner u1 -name "laptop" -expires-in 720h`)
	fmt.Fprintln(os.Stderr, `  keys revoke -key "abc123..."`)
	fmt.Fprintln(os.Stderr, `  keys list -owner u1`)
}
