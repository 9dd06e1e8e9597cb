// File: api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// BrowserSession is the capability surface the tool layer drives. It is
// implemented by the real chromedp-backed session and by an in-memory fake so
// the registry and the agent loop never depend on a live browser.
//
// All mutating operations are serialized by the implementation: a headless
// control surface cannot safely accept concurrent commands against one page.
type BrowserSession interface {
	// Navigate loads the URL and waits for the page to settle. On success the
	// session becomes active and CurrentURL reflects the new location.
	Navigate(ctx context.Context, url string) error
	// WaitForSelector polls until the selector matches an element or the
	// timeout elapses. A timeout of zero uses the session default.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	// Type sends text to the element matching selector; an empty selector
	// targets the currently focused element.
	Type(ctx context.Context, selector, text string) error
	// Scroll moves the viewport "up" or "down" by amount pixels.
	Scroll(ctx context.Context, direction string, amount int) error
	Upload(ctx context.Context, selector, filePath string) error

	// Content returns the raw page markup. Read-only.
	Content(ctx context.Context) (string, error)
	// Screenshot captures the current viewport as PNG bytes. Read-only and
	// idempotent between navigations.
	Screenshot(ctx context.Context) ([]byte, error)
	// CurrentURL returns the page location, or the empty string when the
	// session has never navigated.
	CurrentURL(ctx context.Context) (string, error)
	// Active reports whether a navigation has succeeded in this session.
	Active() bool

	// Reset discards the current page. The session may be reused afterwards.
	Reset(ctx context.Context) error
}

// MemoryStore is the agent's long-term fact store. Entries are append-only;
// the only deletion is a full clear.
type MemoryStore interface {
	Memorize(content string, tags []string) MemoryEntry
	Recall(query string, tags []string) []MemoryEntry
	All() []MemoryEntry
	Clear()
}

// GenerationRequest is what the agent loop hands to an LLM provider: the
// conversation so far plus the declared tool surface.
type GenerationRequest struct {
	System      string
	Turns       []Turn
	Tools       []ToolDefinition
	Temperature float32
	// ForceJSON asks the provider for a JSON-only response body. Used when
	// requesting the structured final report.
	ForceJSON bool
}

// TokenUsage reports provider-side token accounting for one generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generation is a single provider response: free text, zero or more tool
// calls, or both. When both are present the loop gives tool calls priority.
type Generation struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// LLMClient abstracts the provider boundary. Credentials and model selection
// are injected configuration; the loop only sees this interface.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*Generation, error)
}
