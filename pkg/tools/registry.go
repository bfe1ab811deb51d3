package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnknownTool is returned when an invoked tool has no registered handler.
var ErrUnknownTool = errors.New("unknown tool")

// Handler is an invocable tool. Handlers must be safe to retry: the
// orchestration layer invokes each invocation ID at most once, but makes no
// delivery guarantee beyond that.
type Handler interface {
	// Name is the tool name the model invokes.
	Name() string
	// Definition describes the call schema surfaced to the model.
	Definition() openai.Tool
	// Invoke runs the tool. The returned value is JSON-marshalled into the
	// result payload.
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry maps tool names to handlers.
// Registration happens at startup; Invoke and Definitions are safe for
// concurrent use afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same name twice is an error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if name == "" {
		return errors.New("tool name must not be empty")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// Definitions returns the registered tool schemas in registration order,
// stable so the model sees a deterministic tool list.
func (r *Registry) Definitions() []openai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.handlers[name].Definition())
	}
	return defs
}

// Invoke dispatches a call to its handler and always returns a Result: an
// unknown tool, a handler error, or a handler panic becomes an error result
// rather than propagating.
func (r *Registry) Invoke(ctx context.Context, call Call) (result Result) {
	result = Result{InvocationID: call.InvocationID, Status: StatusError}

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = StatusError
			result.Payload = nil
			result.ErrorDetail = fmt.Sprintf("tool %s panicked: %v", call.Name, rec)
		}
	}()

	r.mu.RLock()
	handler, ok := r.handlers[call.Name]
	r.mu.RUnlock()
	if !ok {
		result.ErrorDetail = fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name)
		return result
	}

	payload, err := handler.Invoke(ctx, call.Arguments)
	if err != nil {
		result.ErrorDetail = err.Error()
		return result
	}

	data, err := json.Marshal(payload)
	if err != nil {
		result.ErrorDetail = fmt.Sprintf("marshal tool payload: %v", err)
		return result
	}

	result.Status = StatusOK
	result.Payload = data
	return result
}
