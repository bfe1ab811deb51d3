package tools

import "context"

type contextKey string

const sessionIDKey contextKey = "session_id"

// WithSessionID attaches the owning session's ID to the context so handlers
// can scope their log entries to the turn that invoked them.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session ID attached by WithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}
