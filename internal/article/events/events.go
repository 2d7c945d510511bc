// Package events publishes article lifecycle events to Kafka. Emission is
// fire-and-forget: a broken event stream never fails a submission.
package events

import "time"

type Type string

const (
	TypeSubmitted     Type = "article.submitted"
	TypeEnqueueFailed Type = "article.enqueue_failed"
	TypeDeleted       Type = "article.deleted"
	TypeRequeued      Type = "article.requeued"
)

type Event struct {
	Type      Type      `json:"type"`
	ArticleID string    `json:"article_id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter accepts lifecycle events. Emit must not block on the transport.
type Emitter interface {
	Emit(Event)
}

// Nop discards every event. It is used when Kafka is not configured.
type Nop struct{}

func (Nop) Emit(Event) {}
