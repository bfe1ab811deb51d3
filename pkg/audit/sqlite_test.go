package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	rec, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

func TestSQLiteRecorder_SequenceIsMonotonic(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	kinds := []Kind{KindUserMessage, KindToolCall, KindRetrieval, KindToolResult, KindAgentMessage}
	for _, kind := range kinds {
		require.NoError(t, rec.Record(ctx, "sess-1", kind, map[string]string{"k": string(kind)}))
	}

	entries, err := rec.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, len(kinds))

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
		assert.Equal(t, kinds[i], entry.Kind)
		assert.Equal(t, "sess-1", entry.SessionID)
		assert.False(t, entry.Timestamp.IsZero())
	}
}

func TestSQLiteRecorder_SessionsAreIndependent(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	// Interleave writes across two sessions.
	require.NoError(t, rec.Record(ctx, "a", KindUserMessage, nil))
	require.NoError(t, rec.Record(ctx, "b", KindUserMessage, nil))
	require.NoError(t, rec.Record(ctx, "a", KindAgentMessage, nil))
	require.NoError(t, rec.Record(ctx, "b", KindError, nil))
	require.NoError(t, rec.Record(ctx, "b", KindAgentMessage, nil))

	a, err := rec.History(ctx, "a")
	require.NoError(t, err)
	b, err := rec.History(ctx, "b")
	require.NoError(t, err)

	require.Len(t, a, 2)
	require.Len(t, b, 3)
	assert.Equal(t, int64(1), a[0].Seq)
	assert.Equal(t, int64(2), a[1].Seq)
	assert.Equal(t, int64(3), b[2].Seq)
}

func TestSQLiteRecorder_ConcurrentSessions(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	const sessions = 4
	const perSession = 25

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perSession; j++ {
				if err := rec.Record(ctx, id, KindUserMessage, map[string]int{"n": j}); err != nil {
					t.Errorf("Record failed: %v", err)
					return
				}
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		entries, err := rec.History(ctx, string(rune('a'+i)))
		require.NoError(t, err)
		require.Len(t, entries, perSession)
		for j, entry := range entries {
			assert.Equal(t, int64(j+1), entry.Seq)
		}
	}
}

func TestSQLiteRecorder_PayloadRoundTrip(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	payload := map[string]any{
		"invocation_id": "call-1",
		"tool":          "search_docs",
	}
	require.NoError(t, rec.Record(ctx, "sess-1", KindToolCall, payload))

	entries, err := rec.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Payload, &decoded))
	assert.Equal(t, "call-1", decoded["invocation_id"])
	assert.Equal(t, "search_docs", decoded["tool"])
}

func TestSQLiteRecorder_RawPayloadPassesThrough(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"already":"encoded"}`)
	require.NoError(t, rec.Record(ctx, "sess-1", KindRetrieval, raw))

	entries, err := rec.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"already":"encoded"}`, string(entries[0].Payload))
}

func TestSQLiteRecorder_HistoryUnknownSession(t *testing.T) {
	rec := newTestRecorder(t)

	entries, err := rec.History(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryRecorder_MatchesContract(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, "sess-1", KindUserMessage, map[string]string{"content": "hi"}))
	require.NoError(t, rec.Record(ctx, "sess-1", KindAgentMessage, map[string]string{"content": "hello"}))

	entries, err := rec.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, int64(2), entries[1].Seq)
	assert.Equal(t, KindAgentMessage, entries[1].Kind)
}
