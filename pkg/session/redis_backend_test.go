package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	backend := NewRedisBackendFromClient(client, "test:", ttl)

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return mr, backend
}

func TestRedisBackend_SaveAndLoadMetadata(t *testing.T) {
	_, backend := setupMiniredis(t, 0)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	meta := &Metadata{
		ID:             "sess-123",
		ClientIdentity: "alice",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		UpdatedAt:      now,
	}

	if err := backend.SaveMetadata(ctx, meta); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}

	loaded, err := backend.LoadMetadata(ctx, "sess-123")
	if err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	if loaded.ID != meta.ID {
		t.Errorf("ID mismatch: got %s, want %s", loaded.ID, meta.ID)
	}
	if loaded.ClientIdentity != meta.ClientIdentity {
		t.Errorf("ClientIdentity mismatch: got %s, want %s", loaded.ClientIdentity, meta.ClientIdentity)
	}
	if !loaded.ExpiresAt.Equal(meta.ExpiresAt) {
		t.Errorf("ExpiresAt mismatch: got %v, want %v", loaded.ExpiresAt, meta.ExpiresAt)
	}
}

func TestRedisBackend_LoadMetadata_NotFound(t *testing.T) {
	_, backend := setupMiniredis(t, 0)

	_, err := backend.LoadMetadata(context.Background(), "nonexistent")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisBackend_MessageOrder(t *testing.T) {
	_, backend := setupMiniredis(t, 0)
	ctx := context.Background()

	contents := []string{"first", "second", "third", "fourth"}
	for _, c := range contents {
		msg := Message{Role: RoleUser, Content: c, Timestamp: time.Now().UTC()}
		if err := backend.AppendMessage(ctx, "sess-1", msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	messages, err := backend.LoadMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(messages) != len(contents) {
		t.Fatalf("message count mismatch: got %d, want %d", len(messages), len(contents))
	}
	for i, c := range contents {
		if messages[i].Content != c {
			t.Errorf("message %d out of order: got %q, want %q", i, messages[i].Content, c)
		}
	}
}

func TestRedisBackend_ToolCallRoundTrip(t *testing.T) {
	_, backend := setupMiniredis(t, 0)
	ctx := context.Background()

	msg := Message{
		Role:      RoleAssistant,
		Timestamp: time.Now().UTC(),
		ToolCalls: []ToolCall{{ID: "call-1", Name: "search_docs", Arguments: `{"query":"batch jobs"}`}},
	}
	if err := backend.AppendMessage(ctx, "sess-1", msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	messages, err := backend.LoadMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(messages) != 1 || len(messages[0].ToolCalls) != 1 {
		t.Fatalf("unexpected messages: %+v", messages)
	}
	tc := messages[0].ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "search_docs" || tc.Arguments != `{"query":"batch jobs"}` {
		t.Errorf("tool call not preserved: %+v", tc)
	}
}

func TestRedisBackend_TTLExpiry(t *testing.T) {
	mr, backend := setupMiniredis(t, time.Minute)
	ctx := context.Background()

	meta := &Metadata{ID: "sess-ttl", ClientIdentity: "alice", CreatedAt: time.Now().UTC()}
	if err := backend.SaveMetadata(ctx, meta); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}
	if err := backend.AppendMessage(ctx, "sess-ttl", Message{Role: RoleUser, Content: "hi", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := backend.LoadMetadata(ctx, "sess-ttl"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after TTL, got %v", err)
	}
	messages, err := backend.LoadMessages(ctx, "sess-ttl")
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty history after TTL, got %d messages", len(messages))
	}
}

func TestRedisBackend_DeleteSession(t *testing.T) {
	_, backend := setupMiniredis(t, 0)
	ctx := context.Background()

	meta := &Metadata{ID: "sess-del", ClientIdentity: "alice", CreatedAt: time.Now().UTC()}
	if err := backend.SaveMetadata(ctx, meta); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}
	if err := backend.AppendMessage(ctx, "sess-del", Message{Role: RoleUser, Content: "hi", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := backend.DeleteSession(ctx, "sess-del"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := backend.LoadMetadata(ctx, "sess-del"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestRedisBackend_UseAfterClose(t *testing.T) {
	_, backend := setupMiniredis(t, 0)
	ctx := context.Background()

	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := backend.SaveMetadata(ctx, &Metadata{ID: "x"}); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("expected ErrStorageClosed, got %v", err)
	}
	if _, err := backend.LoadMessages(ctx, "x"); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("expected ErrStorageClosed, got %v", err)
	}
}
