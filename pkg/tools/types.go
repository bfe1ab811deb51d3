// Package tools maps tool names to invocable handlers and describes their
// call schemas to the model backend. A tool failure is converted into an
// error result and fed back into the conversation; it never aborts the turn
// that requested it.
package tools

import (
	"encoding/json"
)

// Status reports the outcome of a tool invocation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Call is a structured tool invocation emitted by the model.
type Call struct {
	// InvocationID pairs this call with its result through logging and the
	// message fed back to the model.
	InvocationID string          `json:"invocationId"`
	Name         string          `json:"name"`
	Arguments    json.RawMessage `json:"arguments"`
}

// Result is the outcome of one tool invocation, paired 1:1 with a Call by
// invocation ID.
type Result struct {
	InvocationID string          `json:"invocationId"`
	Status       Status          `json:"status"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorDetail  string          `json:"errorDetail,omitempty"`
}

// Content renders the result as the content of a role=tool message.
func (r Result) Content() string {
	if r.Status == StatusError {
		data, _ := json.Marshal(map[string]string{"error": r.ErrorDetail})
		return string(data)
	}
	return string(r.Payload)
}
