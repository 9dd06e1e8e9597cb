// File: api/schemas/events.go
package schemas

import "time"

// TraceLevel orders trace events by severity. Error is the most severe.
type TraceLevel string

const (
	LevelError TraceLevel = "ERROR"
	LevelWarn  TraceLevel = "WARN"
	LevelInfo  TraceLevel = "INFO"
	LevelDebug TraceLevel = "DEBUG"
	LevelTrace TraceLevel = "TRACE"
)

// Severity returns a comparable rank: higher means more severe. Unknown
// levels rank lowest so they never pass a level filter accidentally.
func (l TraceLevel) Severity() int {
	switch l {
	case LevelError:
		return 5
	case LevelWarn:
		return 4
	case LevelInfo:
		return 3
	case LevelDebug:
		return 2
	case LevelTrace:
		return 1
	default:
		return 0
	}
}

// TraceEvent is a structured, leveled record of internal activity, independent
// of the conversation turns the model sees. Immutable once emitted.
type TraceEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     TraceLevel     `json:"level"`
	Target    string         `json:"target"`
	SpanName  string         `json:"span_name,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// AgentEventType classifies the coarse-grained events the loop publishes for
// observers (the thought stream in a UI, an attached log follower).
type AgentEventType string

const (
	EventSystem        AgentEventType = "system"
	EventToolCall      AgentEventType = "tool_call"
	EventToolResult    AgentEventType = "tool_result"
	EventSuccess       AgentEventType = "success"
	EventError         AgentEventType = "error"
	EventBrowserUpdate AgentEventType = "browser-update"
)

// AgentEvent is one entry in the agent's observable activity stream.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
