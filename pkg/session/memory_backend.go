package session

import (
	"context"
	"sync"
)

// MemoryBackend implements StorageBackend in process memory. Suitable for
// tests and single-node deployments without Redis.
type MemoryBackend struct {
	mu       sync.RWMutex
	metadata map[string]Metadata
	history  map[string][]Message
	closed   bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		metadata: make(map[string]Metadata),
		history:  make(map[string][]Message),
	}
}

// SaveMetadata creates or updates session metadata.
func (b *MemoryBackend) SaveMetadata(ctx context.Context, meta *Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrStorageClosed
	}
	b.metadata[meta.ID] = *meta
	return nil
}

// LoadMetadata retrieves session metadata by ID.
func (b *MemoryBackend) LoadMetadata(ctx context.Context, sessionID string) (*Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStorageClosed
	}
	meta, ok := b.metadata[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := meta
	return &out, nil
}

// AppendMessage adds a message to a session's history.
func (b *MemoryBackend) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrStorageClosed
	}
	b.history[sessionID] = append(b.history[sessionID], msg)
	return nil
}

// LoadMessages retrieves all messages for a session in append order.
func (b *MemoryBackend) LoadMessages(ctx context.Context, sessionID string) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStorageClosed
	}
	msgs := b.history[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// DeleteSession removes a session and its history.
func (b *MemoryBackend) DeleteSession(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrStorageClosed
	}
	delete(b.metadata, sessionID)
	delete(b.history, sessionID)
	return nil
}

// Close marks the backend closed; further operations fail with ErrStorageClosed.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
