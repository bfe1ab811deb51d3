package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder keeps the interaction log in memory. For tests.
type MemoryRecorder struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{entries: make(map[string][]Entry)}
}

// Record appends an entry with the next per-session sequence number.
func (r *MemoryRecorder) Record(ctx context.Context, sessionID string, kind Kind, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = append(r.entries[sessionID], Entry{
		SessionID: sessionID,
		Seq:       int64(len(r.entries[sessionID]) + 1),
		Kind:      kind,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// History returns all entries for a session in sequence order.
func (r *MemoryRecorder) History(ctx context.Context, sessionID string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.entries[sessionID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Close is a no-op.
func (r *MemoryRecorder) Close() error {
	return nil
}
