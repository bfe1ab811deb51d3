// Package session provides conversation state for the chat service.
// A session is one authenticated, time-bounded conversation: metadata, an
// append-only message history, and an exclusive per-session lock that
// serializes turns.
package session

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the tool-invocation metadata carried on an assistant message.
type ToolCall struct {
	// ID is the invocation identifier the model assigned to this call.
	ID string `json:"id"`
	// Name is the tool being invoked.
	Name string `json:"name"`
	// Arguments is the raw JSON argument string emitted by the model.
	Arguments string `json:"arguments"`
}

// Message is a single entry in a session's history.
// Messages are immutable once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID is set on role=tool messages and pairs the result with the
	// call that produced it.
	ToolCallID string `json:"toolCallId,omitempty"`
}

// Metadata holds session summary information, stored separately from the
// history so sessions can be listed without loading all messages.
type Metadata struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// ClientIdentity is the identity the session was started for.
	ClientIdentity string `json:"clientIdentity"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is when the session's credential stops validating.
	// Fixed at creation; validation never extends it.
	ExpiresAt time.Time `json:"expiresAt"`
	// UpdatedAt is when the history was last appended to.
	UpdatedAt time.Time `json:"updatedAt"`
	// MessageCount is the number of messages in the history.
	MessageCount int `json:"messageCount"`
}
