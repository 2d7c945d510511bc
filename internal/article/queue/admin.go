package queue

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
)

// ListClient is the subset of pkg/redis.Client the operator tooling needs.
type ListClient interface {
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// Admin holds operator-only channel operations. None of them is reachable
// from the submission path.
type Admin struct {
	client  ListClient
	channel string
	logger  *slog.Logger
}

func NewAdmin(client ListClient, channel string) *Admin {
	return &Admin{
		client:  client,
		channel: channel,
		logger:  slog.Default().With("component", "queue-admin", "channel", channel),
	}
}

// Depth returns the number of messages waiting on the channel.
func (a *Admin) Depth(ctx context.Context) (int64, error) {
	n, err := a.client.LLen(ctx, a.channel)
	if err != nil {
		return 0, fmt.Errorf("%w: measuring %s: %w", apperrors.ErrQueueUnavailable, a.channel, err)
	}
	return n, nil
}

// Peek returns up to n messages from the consuming end, oldest first,
// without removing them.
func (a *Admin) Peek(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := a.client.LRange(ctx, a.channel, -n, -1)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrQueueUnavailable, a.channel, err)
	}
	// LRANGE returns head-to-tail; workers pop the tail.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Purge drops every queued message and returns how many were dropped.
// Records whose tasks are dropped stay pending.
func (a *Admin) Purge(ctx context.Context) (int64, error) {
	n, err := a.Depth(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := a.client.Del(ctx, a.channel); err != nil {
		return 0, fmt.Errorf("%w: deleting %s: %w", apperrors.ErrQueueUnavailable, a.channel, err)
	}
	a.logger.Warn("channel purged", "dropped", n)
	return n, nil
}
