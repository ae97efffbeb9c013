// Package event defines the messages exchanged over the event bus.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

const (
	TypeTaskCreated = "task_created"

	defaultFileName = "unknown_file"
)

var (
	ErrUnknownEvent     = fmt.Errorf("%w: unknown event type", appErr.ErrDecode)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", appErr.ErrDecode)
)

// Envelope is the wire format of every bus message.
type Envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event is implemented by every known payload type.
type Event interface {
	Type() string
}

// TaskCreated asks the ingestion consumer to embed one file.
type TaskCreated struct {
	TaskID      int64  `json:"task_id"`
	FileName    string `json:"file_name"`
	FileContent string `json:"file_content"`
}

func (TaskCreated) Type() string {
	return TypeTaskCreated
}

func NewEnvelope(ev Event, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventType: ev.Type(),
		Payload:   raw,
		Timestamp: now.UTC(),
	}, nil
}

// ParseEnvelope decodes the raw bytes of a bus message.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrMalformedPayload)
	}
	return &env, nil
}

// Decode maps an envelope to its typed event.
func Decode(env *Envelope) (Event, error) {
	switch env.EventType {
	case TypeTaskCreated:
		return decodeTaskCreated(env.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.EventType)
	}
}

func decodeTaskCreated(raw json.RawMessage) (*TaskCreated, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedPayload)
	}
	var ev TaskCreated
	if err := requireField(fields, "task_id", &ev.TaskID); err != nil {
		return nil, err
	}
	if err := requireField(fields, "file_content", &ev.FileContent); err != nil {
		return nil, err
	}
	if v, ok := fields["file_name"]; ok {
		if err := json.Unmarshal(v, &ev.FileName); err != nil {
			return nil, fmt.Errorf("%w: file_name: %v", ErrMalformedPayload, err)
		}
	}
	if strings.TrimSpace(ev.FileName) == "" {
		ev.FileName = defaultFileName
	}
	return &ev, nil
}

func requireField(fields map[string]json.RawMessage, name string, dst interface{}) error {
	v, ok := fields[name]
	if !ok || string(v) == "null" {
		return fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	return nil
}

func IsDecodeError(err error) bool {
	return errors.Is(err, appErr.ErrDecode)
}
