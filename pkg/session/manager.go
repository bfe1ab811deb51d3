package session

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const maxIdentityLen = 128

// Config configures a Manager.
type Config struct {
	// TTL is the fixed session lifetime; credentials expire TTL after creation.
	TTL time.Duration
	// Secret signs session credentials.
	Secret []byte
	// NonBlocking makes Acquire fail with ErrSessionBusy instead of waiting
	// when another turn holds the session.
	NonBlocking bool
}

// Manager owns session lifecycle: creation, credential validation, and the
// per-session exclusive locks that serialize turns. Manager is safe for
// concurrent use.
type Manager struct {
	backend     StorageBackend
	signer      *Signer
	ttl         time.Duration
	nonBlocking bool

	mu    sync.Mutex
	locks map[string]chan struct{}

	now func() time.Time
}

// Started is the result of creating a session.
type Started struct {
	Meta       Metadata
	Credential string
}

// NewManager creates a session manager over the given storage backend.
func NewManager(backend StorageBackend, cfg Config) (*Manager, error) {
	signer, err := NewSigner(cfg.Secret)
	if err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		backend:     backend,
		signer:      signer,
		ttl:         ttl,
		nonBlocking: cfg.NonBlocking,
		locks:       make(map[string]chan struct{}),
		now:         time.Now,
	}, nil
}

// Create allocates a new session with an empty history and returns its
// metadata together with a signed credential. The expiry is fixed at
// creation time.
func (m *Manager) Create(ctx context.Context, clientIdentity string) (*Started, error) {
	if err := validateIdentity(clientIdentity); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	meta := Metadata{
		ID:             uuid.New().String(),
		ClientIdentity: clientIdentity,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		UpdatedAt:      now,
	}

	if err := m.backend.SaveMetadata(ctx, &meta); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	credential, err := m.signer.Sign(Claims{
		SessionID: meta.ID,
		IssuedAt:  now.Unix(),
		ExpiresAt: meta.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}

	return &Started{Meta: meta, Credential: credential}, nil
}

// Validate verifies a credential's integrity tag and expiry and returns the
// session ID it is bound to. Validation is stateless and idempotent; it never
// extends the session's lifetime.
func (m *Manager) Validate(credential string) (string, error) {
	claims, err := m.signer.Verify(credential, m.now())
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

// Acquire grants exclusive mutation rights to a session's history for the
// life of one turn. Concurrent acquires on the same session serialize; under
// the non-blocking policy the second caller fails with ErrSessionBusy.
// The returned handle must be released on every exit path.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	if _, err := m.backend.LoadMetadata(ctx, sessionID); err != nil {
		return nil, err
	}

	sem := m.semaphore(sessionID)
	if m.nonBlocking {
		select {
		case sem <- struct{}{}:
		default:
			return nil, ErrSessionBusy
		}
	} else {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &Handle{manager: m, sessionID: sessionID, sem: sem}, nil
}

// Delete removes a session and its history.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.backend.DeleteSession(ctx, sessionID)
}

// Close releases the underlying storage backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) semaphore(sessionID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.locks[sessionID]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[sessionID] = sem
	}
	return sem
}

func validateIdentity(identity string) error {
	if identity == "" {
		return ErrInvalidIdentity
	}
	if len(identity) > maxIdentityLen {
		return fmt.Errorf("%w: identity exceeds %d bytes", ErrInvalidIdentity, maxIdentityLen)
	}
	for _, r := range identity {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: identity contains control characters", ErrInvalidIdentity)
		}
	}
	return nil
}

// Handle is a scoped grant of exclusive access to one session's history.
// All mutations during a turn go through the handle; once released, further
// use fails with ErrHandleExpired.
type Handle struct {
	manager   *Manager
	sessionID string
	sem       chan struct{}

	mu       sync.Mutex
	released bool
}

// SessionID returns the session this handle is bound to.
func (h *Handle) SessionID() string {
	return h.sessionID
}

// Append adds a message to the session's history. Only valid while the
// handle is held.
func (h *Handle) Append(ctx context.Context, msg Message) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return ErrHandleExpired
	}
	h.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.manager.now().UTC()
	}

	if err := h.manager.backend.AppendMessage(ctx, h.sessionID, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	meta, err := h.manager.backend.LoadMetadata(ctx, h.sessionID)
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	meta.MessageCount++
	meta.UpdatedAt = h.manager.now().UTC()
	if err := h.manager.backend.SaveMetadata(ctx, meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// History returns the session's messages in append order.
func (h *Handle) History(ctx context.Context) ([]Message, error) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil, ErrHandleExpired
	}
	h.mu.Unlock()

	return h.manager.backend.LoadMessages(ctx, h.sessionID)
}

// Release returns the session lock. Safe to call more than once; intended
// to be deferred so the lock is returned on every exit path.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	<-h.sem
}
