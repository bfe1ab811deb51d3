// Package audit is the durable interaction log: every user message, model
// response, tool call/result, retrieval, and error is recorded in arrival
// order with a per-session monotonic sequence number. The log is append-only;
// nothing in the service updates or deletes entries at runtime.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies a log entry.
type Kind string

const (
	KindUserMessage  Kind = "user_msg"
	KindAgentMessage Kind = "agent_msg"
	KindToolCall     Kind = "tool_call"
	KindToolResult   Kind = "tool_result"
	KindRetrieval    Kind = "retrieval"
	KindError        Kind = "error"
)

// Entry is one record in the interaction log.
type Entry struct {
	SessionID string `json:"sessionId"`
	// Seq is assigned by the recorder, monotonically increasing per session,
	// so log order is reconstructable even when entries from concurrent
	// sessions interleave.
	Seq       int64           `json:"seq"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Recorder persists interaction log entries.
// Implementations must be safe for concurrent use. A Record failure must be
// handled by the caller as a secondary error; it never aborts the
// user-facing request it belongs to.
type Recorder interface {
	// Record appends an entry for the session. The payload is marshalled
	// to JSON; the sequence number is assigned internally.
	Record(ctx context.Context, sessionID string, kind Kind, payload any) error

	// History returns all entries for a session in sequence order.
	History(ctx context.Context, sessionID string) ([]Entry, error)

	// Close releases resources held by the recorder.
	Close() error
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
