package session

import (
	"context"
)

// StorageBackend abstracts session persistence.
// Implementations must be safe for concurrent use. Message lists are
// append-only; backends never reorder or rewrite entries.
type StorageBackend interface {
	// SaveMetadata creates or updates session metadata.
	SaveMetadata(ctx context.Context, meta *Metadata) error

	// LoadMetadata retrieves session metadata by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadMetadata(ctx context.Context, sessionID string) (*Metadata, error)

	// AppendMessage adds a message to a session's history.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error

	// LoadMessages retrieves all messages for a session in append order.
	LoadMessages(ctx context.Context, sessionID string) ([]Message, error)

	// DeleteSession removes a session and its history.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases any resources held by the backend.
	Close() error
}
