package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterchat/clusterchat/internal/orchestrator"
	"github.com/clusterchat/clusterchat/pkg/audit"
	"github.com/clusterchat/clusterchat/pkg/llm"
	"github.com/clusterchat/clusterchat/pkg/observability"
	"github.com/clusterchat/clusterchat/pkg/retrieval"
	"github.com/clusterchat/clusterchat/pkg/session"
	"github.com/clusterchat/clusterchat/pkg/tools"
)

type serviceFixture struct {
	srv      *httptest.Server
	sessions *session.Manager
	recorder *audit.MemoryRecorder
}

type fixtureOptions struct {
	model       llm.Client
	nonBlocking bool
	ttl         time.Duration
	rps         float64
	burst       int
	searcher    tools.Searcher
}

func newServiceFixture(t *testing.T, opts fixtureOptions) *serviceFixture {
	t.Helper()

	if opts.model == nil {
		opts.model = llm.NewScripted(llm.Step{Response: llm.TextResponse("ok")})
	}
	if opts.ttl == 0 {
		opts.ttl = time.Hour
	}
	if opts.rps == 0 {
		opts.rps = 1000
		opts.burst = 1000
	}

	manager, err := session.NewManager(session.NewMemoryBackend(), session.Config{
		TTL:         opts.ttl,
		Secret:      []byte("test-secret"),
		NonBlocking: opts.nonBlocking,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	recorder := audit.NewMemoryRecorder()

	registry := tools.NewRegistry()
	if opts.searcher != nil {
		require.NoError(t, registry.Register(tools.NewSearchDocs(opts.searcher, recorder, 4)))
	}

	orch := orchestrator.New(opts.model, registry, recorder, orchestrator.Config{Model: "test-model"})

	s := New(manager, orch, observability.NewHealthChecker(),
		NewRateLimiter(opts.rps, opts.burst), Config{})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &serviceFixture{srv: srv, sessions: manager, recorder: recorder}
}

func (f *serviceFixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (f *serviceFixture) startSession(t *testing.T, identity string) startSessionResponse {
	t.Helper()
	resp := f.post(t, "/start_session", startSessionRequest{ClientIdentity: identity})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started startSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	return started
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	defer resp.Body.Close()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestStartSession(t *testing.T) {
	f := newServiceFixture(t, fixtureOptions{})

	started := f.startSession(t, "alice")
	assert.NotEmpty(t, started.SessionID)
	assert.NotEmpty(t, started.Credential)
	assert.True(t, started.ExpiresAt.After(time.Now()))
}

func TestStartSession_InvalidIdentity(t *testing.T) {
	f := newServiceFixture(t, fixtureOptions{})

	resp := f.post(t, "/start_session", startSessionRequest{ClientIdentity: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_identity", decodeError(t, resp).Error.Code)
}

func TestChat_BufferedScenario(t *testing.T) {
	searcher := &stubSearcher{result: &retrieval.Result{
		Query:     "submit batch job",
		Documents: []retrieval.Document{{ID: "doc-1", Snippet: "use sbatch", Source: "docs/slurm.md"}},
	}}
	model := llm.NewScripted(
		llm.Step{Response: llm.ToolCallResponse(
			llm.ToolCall("call-1", tools.SearchDocsName, `{"query":"submit batch job"}`),
		)},
		llm.Step{Response: llm.TextResponse("Use sbatch script.sh to submit batch jobs.")},
	)
	f := newServiceFixture(t, fixtureOptions{model: model, searcher: searcher})

	started := f.startSession(t, "alice")

	stream := false
	resp := f.post(t, "/chat", chatRequest{
		Credential: started.Credential,
		Message:    "How do I submit a batch job?",
		Stream:     &stream,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chat chatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, "Use sbatch script.sh to submit batch jobs.", chat.Response)
	require.NotEmpty(t, chat.Events)
	assert.Equal(t, orchestrator.EventToolStart, chat.Events[0].Type)
	assert.Equal(t, orchestrator.EventDone, chat.Events[len(chat.Events)-1].Type)

	entries, err := f.recorder.History(context.Background(), started.SessionID)
	require.NoError(t, err)
	kinds := make([]audit.Kind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []audit.Kind{
		audit.KindUserMessage,
		audit.KindToolCall,
		audit.KindRetrieval,
		audit.KindToolResult,
		audit.KindAgentMessage,
	}, kinds)
}

func TestChat_Streaming(t *testing.T) {
	model := llm.NewScripted(llm.Step{Response: llm.TextResponse("streamed answer text")})
	f := newServiceFixture(t, fixtureOptions{model: model})

	started := f.startSession(t, "alice")

	stream := true
	data, err := json.Marshal(chatRequest{
		Credential: started.Credential,
		Message:    "hello",
		Stream:     &stream,
	})
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+"/chat", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, frames)

	assert.Equal(t, "[DONE]", frames[len(frames)-1])

	var sawDone bool
	text := ""
	for _, frame := range frames[:len(frames)-1] {
		var ev orchestrator.Event
		require.NoError(t, json.Unmarshal([]byte(frame), &ev))
		switch ev.Type {
		case orchestrator.EventToken:
			text += ev.Text
		case orchestrator.EventDone:
			sawDone = true
			assert.Equal(t, "streamed answer text", ev.Response)
		}
	}
	assert.True(t, sawDone)
	assert.Equal(t, "streamed answer text", text)
}

func TestChat_InvalidCredential(t *testing.T) {
	f := newServiceFixture(t, fixtureOptions{})

	resp := f.post(t, "/chat", chatRequest{Credential: "forged.credential", Message: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "credential_invalid", decodeError(t, resp).Error.Code)
}

func TestChat_ExpiredCredentialLeavesNoTrace(t *testing.T) {
	f := newServiceFixture(t, fixtureOptions{ttl: time.Nanosecond})

	started := f.startSession(t, "alice")
	time.Sleep(2 * time.Millisecond)

	resp := f.post(t, "/chat", chatRequest{Credential: started.Credential, Message: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "credential_expired", decodeError(t, resp).Error.Code)

	// A rejected credential writes nothing to the interaction log.
	entries, err := f.recorder.History(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChat_EmptyMessage(t *testing.T) {
	f := newServiceFixture(t, fixtureOptions{})
	started := f.startSession(t, "alice")

	resp := f.post(t, "/chat", chatRequest{Credential: started.Credential, Message: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty_message", decodeError(t, resp).Error.Code)
}

func TestChat_SessionBusy(t *testing.T) {
	f := newServiceFixture(t, fixtureOptions{nonBlocking: true})
	started := f.startSession(t, "alice")

	// Hold the session the way an in-flight turn would.
	handle, err := f.sessions.Acquire(context.Background(), started.SessionID)
	require.NoError(t, err)
	defer handle.Release()

	resp := f.post(t, "/chat", chatRequest{Credential: started.Credential, Message: "hi"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "session_busy", decodeError(t, resp).Error.Code)
}

func TestChat_ModelUnavailable(t *testing.T) {
	model := llm.NewScripted(llm.Step{Err: errors.New("dial tcp: connection refused")})
	f := newServiceFixture(t, fixtureOptions{model: model})
	started := f.startSession(t, "alice")

	stream := false
	resp := f.post(t, "/chat", chatRequest{
		Credential: started.Credential,
		Message:    "hi",
		Stream:     &stream,
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "model_unavailable", decodeError(t, resp).Error.Code)
}

func TestChat_RateLimited(t *testing.T) {
	// Burst of 2 covers start_session plus one chat; the next chat trips
	// the global limit.
	f := newServiceFixture(t, fixtureOptions{rps: 0.001, burst: 2})
	started := f.startSession(t, "alice")

	stream := false
	first := f.post(t, "/chat", chatRequest{Credential: started.Credential, Message: "hi", Stream: &stream})
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := f.post(t, "/chat", chatRequest{Credential: started.Credential, Message: "hi again", Stream: &stream})
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, second).Error.Code)
}

func TestChat_TurnsSerializePerSession(t *testing.T) {
	model := llm.NewScripted(
		llm.Step{Response: llm.TextResponse("first")},
		llm.Step{Response: llm.TextResponse("second")},
	)
	f := newServiceFixture(t, fixtureOptions{model: model})
	started := f.startSession(t, "alice")

	stream := false
	for _, want := range []string{"first", "second"} {
		resp := f.post(t, "/chat", chatRequest{Credential: started.Credential, Message: "go", Stream: &stream})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var chat chatResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
		resp.Body.Close()
		assert.Equal(t, want, chat.Response)
	}

	// Both turns landed in one history, in order.
	handle, err := f.sessions.Acquire(context.Background(), started.SessionID)
	require.NoError(t, err)
	defer handle.Release()
	history, err := handle.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "first", history[1].Content)
	assert.Equal(t, "second", history[3].Content)
}

type stubSearcher struct {
	result *retrieval.Result
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int) (*retrieval.Result, error) {
	return s.result, nil
}
