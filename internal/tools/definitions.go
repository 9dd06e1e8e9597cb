package tools

import "github.com/xkilldash9x/nexus-agent/api/schemas"

// Tool names. The set is fixed; adding a tool means adding a definition and
// a handler, nothing else.
const (
	ToolNavigate = "navigate"
	ToolSearch   = "search"
	ToolClick    = "click"
	ToolType     = "type"
	ToolScroll   = "scroll"
	ToolUpload   = "upload"
	ToolWaitFor  = "wait_for"
	ToolMemorize = "memorize"
	ToolRecall   = "recall"
	ToolAskUser  = "ask_user"
)

func definitions() []schemas.ToolDefinition {
	strProp := func(desc string) schemas.Property {
		return schemas.Property{Type: "string", Description: desc}
	}

	return []schemas.ToolDefinition{
		{
			Name:        ToolNavigate,
			Description: "Navigate to a URL and return its body content as Markdown. Use this to visit specific sites.",
			Capability:  schemas.CapabilityBrowser,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"url": strProp("Full URL to visit (http/https)."),
				},
				Required: []string{"url"},
			},
		},
		{
			Name:        ToolSearch,
			Description: "Search for a pattern within the already loaded content of the current page. Returns matching lines.",
			Capability:  schemas.CapabilityBrowser,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"query": strProp("Regular expression or literal string to look for."),
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolClick,
			Description: "Click an element by CSS selector and return the updated page content.",
			Capability:  schemas.CapabilityBrowser,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"selector": strProp("CSS selector of the element to click."),
				},
				Required: []string{"selector"},
			},
		},
		{
			Name:        ToolType,
			Description: "Type text into an element. Omit the selector to type into the currently focused element (e.g. right after clicking an input).",
			Capability:  schemas.CapabilityBrowser,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"text":     strProp("Text to type."),
					"selector": strProp("Optional CSS selector of the target element."),
				},
				Required: []string{"text"},
			},
		},
		{
			Name:        ToolScroll,
			Description: "Scroll the page up or down and return the updated content.",
			Capability:  schemas.CapabilityBrowser,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"direction": {Type: "string", Description: "Scroll direction.", Enum: []string{"up", "down"}},
					"amount":    {Type: "integer", Description: "Amount in pixels (default 500)."},
				},
				Required: []string{"direction"},
			},
		},
		{
			Name:        ToolUpload,
			Description: "Attach a local file to a file input element.",
			Capability:  schemas.CapabilityBrowser,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"selector":  strProp("CSS selector for the file input."),
					"file_path": strProp("Absolute path to the file."),
				},
				Required: []string{"selector", "file_path"},
			},
		},
		{
			Name:        ToolWaitFor,
			Description: "Wait until an element matching the selector appears on the page.",
			Capability:  schemas.CapabilityBrowser,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"selector":   strProp("CSS selector to wait for."),
					"timeout_ms": {Type: "integer", Description: "Optional wait budget in milliseconds."},
				},
				Required: []string{"selector"},
			},
		},
		{
			Name:        ToolMemorize,
			Description: "Remember a fact or note for later recall.",
			Capability:  schemas.CapabilityMemory,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"note": strProp("Fact or note to remember."),
					"tags": {
						Type:        "array",
						Description: "Optional tags for categorization.",
						Items:       &schemas.Property{Type: "string"},
					},
				},
				Required: []string{"note"},
			},
		},
		{
			Name:        ToolRecall,
			Description: "Recall previously memorized facts, optionally filtered by a query and tags.",
			Capability:  schemas.CapabilityMemory,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"query": strProp("Optional substring to filter memories."),
					"tags": {
						Type:        "array",
						Description: "Optional tag filter; entries sharing any listed tag match.",
						Items:       &schemas.Property{Type: "string"},
					},
				},
			},
		},
		{
			Name:        ToolAskUser,
			Description: "Ask the user for information you cannot obtain yourself (credentials, a file path, a decision). The task pauses until they answer.",
			Capability:  schemas.CapabilityAgent,
			Parameters: schemas.ParameterSchema{
				Type: "object",
				Properties: map[string]schemas.Property{
					"question": strProp("The question to put to the user."),
					"kind": {
						Type:        "string",
						Description: "What kind of input is needed.",
						Enum:        []string{"answer", "credentials", "file_path", "confirmation"},
					},
					"name": strProp("Short identifier for the awaited input, e.g. \"email\"."),
				},
				Required: []string{"question"},
			},
		},
	}
}
