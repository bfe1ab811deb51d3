// Package orchestrator drives one chat turn: user message in, rounds of
// model generation and tool invocation, final answer out through the event
// stream. One turn runs under one exclusive session handle; the loop is the
// only writer to the session history while it runs.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/clusterchat/clusterchat/pkg/audit"
	"github.com/clusterchat/clusterchat/pkg/llm"
	"github.com/clusterchat/clusterchat/pkg/observability"
	"github.com/clusterchat/clusterchat/pkg/session"
	"github.com/clusterchat/clusterchat/pkg/tools"
)

var (
	// ErrModelUnavailable reports that the model backend could not be reached
	// or returned an error. The turn ends in the error state.
	ErrModelUnavailable = errors.New("model backend unavailable")

	// ErrMalformedToolCall reports a tool-call payload from the model that
	// could not be parsed. The turn ends in the error state.
	ErrMalformedToolCall = errors.New("malformed tool call")
)

const degradedAnswer = "I wasn't able to finish looking that up within the " +
	"allowed number of tool calls. Based on what I found so far I can't give " +
	"a complete answer; please try rephrasing or narrowing the question."

// Config tunes the orchestration loop.
type Config struct {
	// Model is the model name sent to the backend.
	Model string
	// SystemPrompt is prepended to every completion request. Never trimmed.
	SystemPrompt string
	// Temperature and TopP are passed through to the backend.
	Temperature float32
	TopP        float32
	// MaxTokens bounds a single completion. Zero means backend default.
	MaxTokens int
	// IterationCap bounds tool-call rounds per turn. A turn that would
	// exceed it gets a degraded answer instead of another round.
	IterationCap int
	// HistoryTokenBudget is the approximate token budget for the history
	// sent to the model. Oldest non-system messages are dropped first.
	HistoryTokenBudget int
	// TokenChunkSize is how many runes of the final answer go into each
	// token event.
	TokenChunkSize int
}

func (c *Config) applyDefaults() {
	if c.IterationCap <= 0 {
		c.IterationCap = 5
	}
	if c.HistoryTokenBudget <= 0 {
		c.HistoryTokenBudget = 6000
	}
	if c.TokenChunkSize <= 0 {
		c.TokenChunkSize = 24
	}
}

// Orchestrator runs chat turns against a model backend and a tool registry.
type Orchestrator struct {
	model    llm.Client
	registry *tools.Registry
	recorder audit.Recorder
	cfg      Config
}

// New creates an orchestrator.
func New(model llm.Client, registry *tools.Registry, recorder audit.Recorder, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		model:    model,
		registry: registry,
		recorder: recorder,
		cfg:      cfg,
	}
}

// RunTurn processes one user message under an exclusive session handle and
// emits the turn's events on stream. The stream always receives exactly one
// terminal event: done on success (including the degraded iteration-cap
// answer), error when the model backend fails or emits an unparseable tool
// call. The caller releases the handle.
func (o *Orchestrator) RunTurn(ctx context.Context, handle *session.Handle, userMessage string, stream *Stream) error {
	sessionID := handle.SessionID()
	ctx = tools.WithSessionID(ctx, sessionID)

	ctx, span := observability.Tracer().Start(ctx, "chat.turn")
	defer span.End()

	start := time.Now()

	if err := handle.Append(ctx, session.Message{Role: session.RoleUser, Content: userMessage}); err != nil {
		return o.fail(ctx, sessionID, stream, start, fmt.Errorf("append user message: %w", err))
	}
	o.record(ctx, sessionID, audit.KindUserMessage, map[string]string{"content": userMessage})

	toolRounds := 0
	var finalText string

	for {
		resp, err := o.complete(ctx, handle)
		if err != nil {
			return o.fail(ctx, sessionID, stream, start, fmt.Errorf("%w: %v", ErrModelUnavailable, err))
		}

		msg := responseMessage(resp)
		if len(msg.ToolCalls) == 0 {
			finalText = msg.Content
			break
		}

		if toolRounds >= o.cfg.IterationCap {
			finalText = degradedAnswer
			break
		}
		toolRounds++

		if err := o.runToolRound(ctx, handle, msg, stream); err != nil {
			return o.fail(ctx, sessionID, stream, start, err)
		}
	}

	if err := handle.Append(ctx, session.Message{Role: session.RoleAssistant, Content: finalText}); err != nil {
		return o.fail(ctx, sessionID, stream, start, fmt.Errorf("append assistant message: %w", err))
	}
	o.record(ctx, sessionID, audit.KindAgentMessage, map[string]string{"content": finalText})

	o.streamText(ctx, stream, finalText)
	stream.Close(ctx, Event{Type: EventDone, Response: finalText})

	observability.RecordTurn("ok", time.Since(start))
	return nil
}

// complete sends the trimmed history plus tool definitions to the backend.
func (o *Orchestrator) complete(ctx context.Context, handle *session.Handle) (openai.ChatCompletionResponse, error) {
	history, err := handle.History(ctx)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("load history: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    o.buildMessages(history),
		Temperature: o.cfg.Temperature,
		TopP:        o.cfg.TopP,
		MaxTokens:   o.cfg.MaxTokens,
	}
	if defs := o.registry.Definitions(); len(defs) > 0 {
		req.Tools = defs
	}

	ctx, span := observability.Tracer().Start(ctx, "chat.model_request")
	defer span.End()

	start := time.Now()
	resp, err := o.model.CreateChatCompletion(ctx, req)
	observability.RecordModelRequest(time.Since(start))
	return resp, err
}

// runToolRound appends the assistant tool-call message, invokes every call
// concurrently, and feeds the results back in the order the model emitted
// the calls.
func (o *Orchestrator) runToolRound(ctx context.Context, handle *session.Handle, msg openai.ChatCompletionMessage, stream *Stream) error {
	sessionID := handle.SessionID()

	calls := make([]tools.Call, len(msg.ToolCalls))
	assistantCalls := make([]session.ToolCall, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		if !json.Valid([]byte(tc.Function.Arguments)) {
			return fmt.Errorf("%w: tool %s arguments are not valid JSON", ErrMalformedToolCall, tc.Function.Name)
		}
		calls[i] = tools.Call{
			InvocationID: tc.ID,
			Name:         tc.Function.Name,
			Arguments:    json.RawMessage(tc.Function.Arguments),
		}
		assistantCalls[i] = session.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}

	if err := handle.Append(ctx, session.Message{
		Role:      session.RoleAssistant,
		Content:   msg.Content,
		ToolCalls: assistantCalls,
	}); err != nil {
		return fmt.Errorf("append tool-call message: %w", err)
	}

	for _, call := range calls {
		o.record(ctx, sessionID, audit.KindToolCall, map[string]any{
			"invocation_id": call.InvocationID,
			"tool":          call.Name,
			"arguments":     call.Arguments,
		})
		if err := stream.Send(ctx, Event{
			Type:         EventToolStart,
			InvocationID: call.InvocationID,
			Tool:         call.Name,
		}); err != nil && !errors.Is(err, ErrStreamClosed) {
			return err
		}
	}

	results := make([]tools.Result, len(calls))
	g, invokeCtx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			start := time.Now()
			results[i] = o.registry.Invoke(invokeCtx, call)
			observability.RecordToolCall(call.Name, string(results[i].Status), time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	// Feedback strictly follows emission order regardless of which
	// invocation finished first.
	for i, result := range results {
		o.record(ctx, sessionID, audit.KindToolResult, map[string]any{
			"invocation_id": result.InvocationID,
			"status":        result.Status,
			"payload":       result.Payload,
			"error_detail":  result.ErrorDetail,
		})
		if err := stream.Send(ctx, Event{
			Type:         EventToolEnd,
			InvocationID: result.InvocationID,
			Tool:         calls[i].Name,
			Status:       string(result.Status),
		}); err != nil && !errors.Is(err, ErrStreamClosed) {
			return err
		}

		if err := handle.Append(ctx, session.Message{
			Role:       session.RoleTool,
			Content:    result.Content(),
			ToolCallID: result.InvocationID,
		}); err != nil {
			return fmt.Errorf("append tool result: %w", err)
		}
	}
	return nil
}

// streamText chunks the final answer into token events. The answer was fully
// produced by the completion pass, so the streamed text always equals the
// text recorded in the log.
func (o *Orchestrator) streamText(ctx context.Context, stream *Stream, text string) {
	runes := []rune(text)
	for i := 0; i < len(runes); i += o.cfg.TokenChunkSize {
		end := i + o.cfg.TokenChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := stream.Send(ctx, Event{Type: EventToken, Text: string(runes[i:end])}); err != nil {
			return
		}
	}
}

// fail records the error, emits the terminal error event, and returns the
// error for the transport layer to map.
func (o *Orchestrator) fail(ctx context.Context, sessionID string, stream *Stream, start time.Time, err error) error {
	o.record(ctx, sessionID, audit.KindError, map[string]string{"reason": err.Error()})
	stream.Close(ctx, Event{Type: EventError, Reason: err.Error()})
	observability.RecordTurn("error", time.Since(start))
	return err
}

// record writes an interaction log entry. A logging failure is reported on
// the operational log and counted; it never fails the turn.
func (o *Orchestrator) record(ctx context.Context, sessionID string, kind audit.Kind, payload any) {
	if err := o.recorder.Record(ctx, sessionID, kind, payload); err != nil {
		log.Printf("audit record failed (session=%s kind=%s): %v", sessionID, kind, err)
		observability.RecordAuditFailure()
	}
}

// buildMessages converts the stored history into the backend wire format,
// prepending the system prompt and trimming the oldest messages to the
// token budget.
func (o *Orchestrator) buildMessages(history []session.Message) []openai.ChatCompletionMessage {
	trimmed := trimHistory(history, o.cfg.HistoryTokenBudget)

	msgs := make([]openai.ChatCompletionMessage, 0, len(trimmed)+1)
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.cfg.SystemPrompt,
		})
	}
	for _, m := range trimmed {
		wire := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, wire)
	}
	return msgs
}

// trimHistory drops the oldest messages until the approximate token count
// fits the budget. A leading role=tool message left behind by trimming is
// dropped too, so the model never sees a tool result without its call.
func trimHistory(history []session.Message, budget int) []session.Message {
	total := 0
	for _, m := range history {
		total += approxTokens(m)
	}

	start := 0
	for start < len(history)-1 && total > budget {
		total -= approxTokens(history[start])
		start++
	}
	for start < len(history)-1 && history[start].Role == session.RoleTool {
		start++
	}
	return history[start:]
}

// approxTokens estimates the token cost of a message at four bytes per token.
func approxTokens(m session.Message) int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	return n/4 + 4
}

// responseMessage extracts the first choice's message, tolerating an empty
// choice list from a misbehaving backend.
func responseMessage(resp openai.ChatCompletionResponse) openai.ChatCompletionMessage {
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	}
	return resp.Choices[0].Message
}
