package llm

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// Step is one scripted model turn: either a response or an error.
type Step struct {
	Response openai.ChatCompletionResponse
	Err      error
}

// Scripted is a Client that replays a fixed sequence of responses and
// records every request it receives. For testing orchestration behavior
// without a live backend.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	index    int
	Requests []openai.ChatCompletionRequest
}

// NewScripted creates a scripted client that returns the given steps in
// order. Requests beyond the script fall back to an empty text response.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// CreateChatCompletion implements Client.
func (s *Scripted) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)

	if s.index < len(s.steps) {
		step := s.steps[s.index]
		s.index++
		if step.Err != nil {
			return openai.ChatCompletionResponse{}, step.Err
		}
		return step.Response, nil
	}

	return TextResponse(""), nil
}

// CallCount returns how many completion requests have been made.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// TextResponse builds a plain-text completion response.
func TextResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

// ToolCallResponse builds a completion response requesting tool invocations.
func ToolCallResponse(calls ...openai.ToolCall) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: calls,
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}
}

// ToolCall builds one tool call with the given invocation ID, tool name, and
// raw JSON arguments.
func ToolCall(id, name, arguments string) openai.ToolCall {
	return openai.ToolCall{
		ID:   id,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}
