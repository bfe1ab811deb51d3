// Package llm wraps the model backend behind the chat-completion contract
// the orchestrator speaks: full message history in, either final text or
// tool calls out.
package llm

import (
	"context"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the model backend. The concrete implementation talks to any
// OpenAI-compatible completion endpoint; tests substitute a Scripted client.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the backend connection.
type Config struct {
	// Endpoint is the OpenAI-compatible base URL. Empty uses the default
	// OpenAI endpoint.
	Endpoint string
	// APIKey authenticates against the backend.
	APIKey string
	// Timeout bounds a single completion request.
	Timeout time.Duration
}

// NewClient creates a client for an OpenAI-compatible model backend.
func NewClient(cfg Config) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(clientCfg)
}
