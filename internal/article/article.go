// Package article defines the ArticleRecord lifecycle shared by the API, the
// store and the result sink.
package article

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PlaceholderTitle is the title every record carries until the worker
// overwrites it.
const PlaceholderTitle = "Processing..."

// Status is the processing state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may move to next. Only pending → completed
// and pending → failed exist.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.Terminal()
}

// Record is one submitted URL and its processing outcome. The JSON field
// names are the ones the web client and the worker already use.
type Record struct {
	ID        string    `json:"_id"`
	OwnerID   string    `json:"userId"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Summary   *string   `json:"summary,omitempty"`
	Topics    []string  `json:"topics"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// MarshalJSON keeps topics an array even when the slice is nil.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	if r.Topics == nil {
		r.Topics = []string{}
	}
	return json.Marshal(plain(r))
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// NewRecord builds the pending record written at submission time.
func NewRecord(ownerID, url, id string, now time.Time) Record {
	return Record{
		ID:        id,
		OwnerID:   ownerID,
		URL:       url,
		Title:     PlaceholderTitle,
		Topics:    []string{},
		Status:    StatusPending,
		CreatedAt: now.UTC(),
	}
}

// Result is what the worker reports for a record. For failed results
// Summary carries the error text.
type Result struct {
	ArticleID string   `json:"article_id"`
	Status    Status   `json:"status"`
	Title     string   `json:"title,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Topics    []string `json:"topics,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Normalize fills Summary for failed results the same way the worker does
// when it writes to the store directly.
func (r Result) Normalize() Result {
	if r.Status == StatusFailed && r.Summary == "" && r.Error != "" {
		r.Summary = "Error: " + r.Error
	}
	if r.Topics == nil {
		r.Topics = []string{}
	}
	return r
}
