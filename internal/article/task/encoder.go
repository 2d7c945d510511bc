// Package task builds the Celery protocol-2 messages consumed by the external
// worker pool. The layout, literal strings and body encoding are a wire
// contract with that worker.
package task

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
)

const (
	DefaultTaskName   = "tasks.process_article"
	DefaultLang       = "py"
	DefaultRoutingKey = "celery"

	contentEncoding = "utf-8"
	contentType     = "application/json"
	bodyEncoding    = "base64"
	// deliveryModePersistent asks the broker to keep the message on restart.
	deliveryModePersistent = 2
)

// Message is the envelope pushed onto the channel. Field order matches what
// the worker runtime emits itself.
type Message struct {
	Body            string     `json:"body"`
	ContentEncoding string     `json:"content-encoding"`
	ContentType     string     `json:"content-type"`
	Headers         Headers    `json:"headers"`
	Properties      Properties `json:"properties"`
}

type Headers struct {
	Task string `json:"task"`
	ID   string `json:"id"`
	Lang string `json:"lang"`
}

type Properties struct {
	BodyEncoding  string       `json:"body_encoding"`
	CorrelationID string       `json:"correlation_id"`
	DeliveryInfo  DeliveryInfo `json:"delivery_info"`
	DeliveryMode  int          `json:"delivery_mode"`
	DeliveryTag   string       `json:"delivery_tag"`
	Priority      int          `json:"priority"`
	ReplyTo       string       `json:"reply_to"`
}

type DeliveryInfo struct {
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// Marshal renders m as compact JSON without HTML escaping and without a
// trailing newline.
func (m *Message) Marshal() ([]byte, error) {
	return marshalCompact(m)
}

// Options configures the fixed parts of every message.
type Options struct {
	TaskName   string
	Lang       string
	RoutingKey string
}

// Encoder turns (recordID, url) pairs into task messages.
type Encoder struct {
	opts  Options
	nonce func() string
}

// NewEncoder returns an Encoder, substituting defaults for empty options.
func NewEncoder(opts Options) *Encoder {
	if opts.TaskName == "" {
		opts.TaskName = DefaultTaskName
	}
	if opts.Lang == "" {
		opts.Lang = DefaultLang
	}
	if opts.RoutingKey == "" {
		opts.RoutingKey = DefaultRoutingKey
	}
	return &Encoder{opts: opts, nonce: uuid.NewString}
}

// TaskName returns the task identifier stamped on every message.
func (e *Encoder) TaskName() string {
	return e.opts.TaskName
}

// Validate checks that the pair can be encoded. The url is otherwise passed
// through verbatim.
func Validate(recordID, url string) error {
	if recordID == "" {
		return fmt.Errorf("%w: record id is empty", apperrors.ErrEncoding)
	}
	if url == "" {
		return fmt.Errorf("%w: url is empty", apperrors.ErrEncoding)
	}
	if !utf8.ValidString(recordID) || !utf8.ValidString(url) {
		return fmt.Errorf("%w: input is not valid UTF-8", apperrors.ErrEncoding)
	}
	return nil
}

// Encode builds the message for one submission. Every call draws fresh
// task id, delivery tag and reply-to nonces; correlation_id repeats the
// task id.
func (e *Encoder) Encode(recordID, url string) (*Message, error) {
	if err := Validate(recordID, url); err != nil {
		return nil, err
	}
	body, err := EncodeBody(recordID, url)
	if err != nil {
		return nil, err
	}
	taskID := e.nonce()
	return &Message{
		Body:            body,
		ContentEncoding: contentEncoding,
		ContentType:     contentType,
		Headers: Headers{
			Task: e.opts.TaskName,
			ID:   taskID,
			Lang: e.opts.Lang,
		},
		Properties: Properties{
			BodyEncoding:  bodyEncoding,
			CorrelationID: taskID,
			DeliveryInfo: DeliveryInfo{
				Exchange:   "",
				RoutingKey: e.opts.RoutingKey,
			},
			DeliveryMode: deliveryModePersistent,
			DeliveryTag:  e.nonce(),
			Priority:     0,
			ReplyTo:      e.nonce(),
		},
	}, nil
}

// EncodeBody returns base64(JSON([[recordID, url], {}, {}])): positional
// args, keyword args and embedded options.
func EncodeBody(recordID, url string) (string, error) {
	raw, err := marshalCompact([]any{
		[]string{recordID, url},
		map[string]any{},
		map[string]any{},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrEncoding, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeBody reverses EncodeBody.
func DecodeBody(body string) (args []string, kwargs, embed map[string]any, err error) {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: decoding base64 body: %w", apperrors.ErrEncoding, err)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: parsing body: %w", apperrors.ErrEncoding, err)
	}
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("%w: body has %d elements, want 3", apperrors.ErrEncoding, len(parts))
	}
	if err := json.Unmarshal(parts[0], &args); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: parsing args: %w", apperrors.ErrEncoding, err)
	}
	if err := json.Unmarshal(parts[1], &kwargs); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: parsing kwargs: %w", apperrors.ErrEncoding, err)
	}
	if err := json.Unmarshal(parts[2], &embed); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: parsing embed: %w", apperrors.ErrEncoding, err)
	}
	return args, kwargs, embed, nil
}

// marshalCompact renders v the way JSON.stringify does: no HTML escaping,
// U+2028 and U+2029 left as raw characters, no trailing newline.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators rewrites the \u2028 and \u2029 escapes encoding/json
// always emits. Escapes are walked pairwise so an escaped backslash followed
// by the text "u2028" is left alone.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+5 < len(b) && string(b[i+2:i+5]) == "202" && (b[i+5] == '8' || b[i+5] == '9') {
			r := '\u2028'
			if b[i+5] == '9' {
				r = '\u2029'
			}
			out = utf8.AppendRune(out, r)
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}
