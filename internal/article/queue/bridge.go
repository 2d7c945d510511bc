// Package queue is the producer side of the task channel: a Redis list the
// worker pool pops from the opposite end.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
)

// Pusher prepends values to a list. pkg/redis.Client implements it.
type Pusher interface {
	LPush(ctx context.Context, key string, values ...any) error
}

// Bridge appends serialized task messages to a single channel. It never
// reads or removes entries and never retries.
type Bridge struct {
	pusher  Pusher
	channel string
	logger  *slog.Logger
}

func NewBridge(pusher Pusher, channel string) *Bridge {
	return &Bridge{
		pusher:  pusher,
		channel: channel,
		logger:  slog.Default().With("component", "queue-bridge", "channel", channel),
	}
}

// Channel returns the list name messages are pushed to.
func (b *Bridge) Channel() string {
	return b.channel
}

// Push enqueues payload once. Any transport failure is reported as
// ErrQueueUnavailable; duplicate calls enqueue duplicate tasks.
func (b *Bridge) Push(ctx context.Context, payload []byte) error {
	if err := b.pusher.LPush(ctx, b.channel, string(payload)); err != nil {
		b.logger.Error("push failed", "error", err, "size", len(payload))
		return fmt.Errorf("%w: pushing to %s: %w", apperrors.ErrQueueUnavailable, b.channel, err)
	}
	b.logger.Debug("task pushed", "size", len(payload))
	return nil
}
