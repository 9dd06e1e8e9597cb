// File: api/schemas/tools.go
package schemas

// Capability names the subsystem a tool touches. The registry uses it to
// decide which dependency a handler is wired against.
type Capability string

const (
	CapabilityBrowser Capability = "browser"
	CapabilityMemory  Capability = "memory"
	CapabilityAgent   Capability = "agent"
)

// Property describes one field of a tool's argument object. The subset of
// JSON Schema here is deliberately small: it is what the supported LLM
// providers can consume as a function declaration.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// ParameterSchema is the declared shape of a tool's arguments.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is the versioned, LLM-facing declaration of one tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Capability  Capability      `json:"capability"`
	Parameters  ParameterSchema `json:"parameters"`
}
