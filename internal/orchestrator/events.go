package orchestrator

// EventType classifies outbound stream events.
type EventType string

const (
	EventToken     EventType = "token"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one wire-level unit emitted to the client. Fields are populated
// per type: Text for token, InvocationID/Tool for tool_start and tool_end,
// Status for tool_end, Response for done, Reason for error.
type Event struct {
	Type         EventType `json:"type"`
	Text         string    `json:"text,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Tool         string    `json:"tool,omitempty"`
	Status       string    `json:"status,omitempty"`
	Response     string    `json:"response,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
