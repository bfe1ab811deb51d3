package session

import "errors"

var (
	// ErrInvalidIdentity is returned when a session is started with an
	// empty or malformed client identity.
	ErrInvalidIdentity = errors.New("invalid client identity")
	// ErrCredentialInvalid is returned when a credential's integrity tag
	// does not verify or the credential is structurally malformed.
	ErrCredentialInvalid = errors.New("credential invalid")
	// ErrCredentialExpired is returned when a credential is past its expiry.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy is returned by a non-blocking acquire when another
	// turn holds the session.
	ErrSessionBusy = errors.New("session busy")
	// ErrHandleExpired is returned when a handle is used after release.
	ErrHandleExpired = errors.New("session handle expired")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)
