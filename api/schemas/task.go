// File: api/schemas/task.go
package schemas

import "time"

// TaskStatus tracks a task through its lifecycle. A task is created Pending,
// moves to Running as soon as the loop picks it up, and settles in exactly one
// of the terminal or suspended states.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskRunning       TaskStatus = "running"
	TaskInputRequired TaskStatus = "input_required"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
)

// Terminal reports whether the status permits no further loop iterations
// without an explicit reset.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// ToolCall is a single tool invocation requested by the model. It is produced
// by the LLM provider and never mutated afterwards.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolError carries a typed, agent-visible failure. Kind is one of the
// ErrKind* constants; Message is free-form detail the model can reason about.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ToolError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// ToolResult pairs one-to-one with a ToolCall. Exactly one of Value or Err is
// populated.
type ToolResult struct {
	CallID string         `json:"call_id"`
	Value  map[string]any `json:"value,omitempty"`
	Err    *ToolError     `json:"error,omitempty"`
}

// Ok reports whether the underlying tool call succeeded.
func (r ToolResult) Ok() bool { return r.Err == nil }

// Turn is one exchange unit within a task's history. History is append-only.
type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	// Answered is set on the user turn that satisfies a suspended slot. It
	// carries the slot with the answer folded into its partial payload.
	Answered *Slot `json:"answered,omitempty"`
}

// SlotKind enumerates the kinds of input the loop can suspend on. resume()
// switches exhaustively over this set.
type SlotKind string

const (
	SlotAnswer       SlotKind = "answer"
	SlotCredentials  SlotKind = "credentials"
	SlotFilePath     SlotKind = "file_path"
	SlotConfirmation SlotKind = "confirmation"
)

// Slot marks what input a suspended task is awaiting. It exists only while the
// task status is TaskInputRequired; resumption folds it, answer included, into
// the answering turn. Partial holds whatever intermediate results the tool
// handler wants preserved across the suspension, keyed by name.
type Slot struct {
	Kind     SlotKind       `json:"kind"`
	Name     string         `json:"name"`
	Question string         `json:"question"`
	Partial  map[string]any `json:"partial,omitempty"`
}

// Task is one user goal and its full interaction history. It is owned
// exclusively by the agent loop and destroyed on explicit reset.
type Task struct {
	ID        string     `json:"id"`
	Goal      string     `json:"goal"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	History   []Turn     `json:"history"`
	Slot      *Slot      `json:"slot,omitempty"`
	Report    *Report    `json:"report,omitempty"`
	Failure   *ToolError `json:"failure,omitempty"`
}

// MemoryEntry is a single immutable fact in the memory store.
type MemoryEntry struct {
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
}
