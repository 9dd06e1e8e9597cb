// Package tools maps the fixed tool surface the model sees onto the browser
// session and the memory store. Dispatch never fails the loop: every
// problem, from an unknown tool name to a dead page, comes back as a typed
// ToolResult error the model can reason about.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/browser"
	"github.com/xkilldash9x/nexus-agent/internal/sift"
)

// handler executes one validated tool call. A non-nil Slot requests user
// input and suspends the task instead of producing a normal result.
type handler func(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error)

// Registry owns the fixed tool set and routes calls to the capability that
// backs each tool.
type Registry struct {
	logger  *zap.Logger
	browser schemas.BrowserSession
	memory  schemas.MemoryStore
	// contentLimit caps the sifted page text returned by browser tools.
	contentLimit int

	defs     map[string]schemas.ToolDefinition
	handlers map[string]handler
	ordered  []schemas.ToolDefinition
}

// NewRegistry wires the tool set against the given capabilities.
// contentLimit <= 0 falls back to the sift default.
func NewRegistry(b schemas.BrowserSession, m schemas.MemoryStore, contentLimit int, logger *zap.Logger) *Registry {
	r := &Registry{
		logger:       logger.Named("tools"),
		browser:      b,
		memory:       m,
		contentLimit: contentLimit,
		defs:         make(map[string]schemas.ToolDefinition),
		handlers:     make(map[string]handler),
	}

	r.ordered = definitions()
	for _, def := range r.ordered {
		r.defs[def.Name] = def
	}

	r.handlers[ToolNavigate] = r.handleNavigate
	r.handlers[ToolSearch] = r.handleSearch
	r.handlers[ToolClick] = r.handleClick
	r.handlers[ToolType] = r.handleType
	r.handlers[ToolScroll] = r.handleScroll
	r.handlers[ToolUpload] = r.handleUpload
	r.handlers[ToolWaitFor] = r.handleWaitFor
	r.handlers[ToolMemorize] = r.handleMemorize
	r.handlers[ToolRecall] = r.handleRecall
	r.handlers[ToolAskUser] = r.handleAskUser

	return r
}

// Definitions returns the LLM-facing tool declarations in a stable order.
func (r *Registry) Definitions() []schemas.ToolDefinition {
	out := make([]schemas.ToolDefinition, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Dispatch validates and executes one tool call. The returned ToolResult
// always carries the call's ID. A non-nil Slot means the tool is asking for
// user input and the task should suspend.
func (r *Registry) Dispatch(ctx context.Context, call schemas.ToolCall) (schemas.ToolResult, *schemas.Slot) {
	def, ok := r.defs[call.Name]
	if !ok {
		r.logger.Warn("Unknown tool requested.", zap.String("tool", call.Name))
		return toolError(call.CallID, schemas.ErrKindUnknownTool,
			fmt.Sprintf("no tool named %q is registered", call.Name)), nil
	}

	if err := ValidateArgs(call.Name, def.Parameters, call.Arguments); err != nil {
		r.logger.Warn("Tool arguments failed validation.",
			zap.String("tool", call.Name), zap.Error(err))
		return toolError(call.CallID, schemas.ErrKindValidation, err.Error()), nil
	}

	r.logger.Debug("Dispatching tool call.",
		zap.String("tool", call.Name), zap.String("call_id", call.CallID))

	value, slot, err := r.handlers[call.Name](ctx, call.Arguments)
	if err != nil {
		kind := classifyHandlerErr(err)
		r.logger.Warn("Tool call failed.",
			zap.String("tool", call.Name), zap.String("kind", string(kind)), zap.Error(err))
		return toolError(call.CallID, kind, err.Error()), nil
	}

	return schemas.ToolResult{CallID: call.CallID, Value: value}, slot
}

// -- Browser tools --

func (r *Registry) handleNavigate(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	url := argString(args, "url")
	if err := r.browser.Navigate(ctx, url); err != nil {
		return nil, nil, err
	}
	content, err := r.siftedContent(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"url": url, "content": content}, nil, nil
}

func (r *Registry) handleSearch(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	html, err := r.browser.Content(ctx)
	if err != nil {
		return nil, nil, err
	}
	// Search runs over the full reduced text, not the truncated view the
	// model was shown, so matches beyond the cap are still found.
	matches, err := SearchContent(sift.Reduce(html), argString(args, "query"))
	if err != nil {
		return nil, nil, &schemas.ToolError{Kind: schemas.ErrKindValidation,
			Message: fmt.Sprintf("invalid search pattern: %v", err)}
	}
	return map[string]any{"matches": matches, "count": len(matches)}, nil, nil
}

func (r *Registry) handleClick(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	if err := r.browser.Click(ctx, argString(args, "selector")); err != nil {
		return nil, nil, err
	}
	content, err := r.siftedContent(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"content": content}, nil, nil
}

func (r *Registry) handleType(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	if err := r.browser.Type(ctx, argString(args, "selector"), argString(args, "text")); err != nil {
		return nil, nil, err
	}
	content, err := r.siftedContent(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"content": content}, nil, nil
}

func (r *Registry) handleScroll(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	if err := r.browser.Scroll(ctx, argString(args, "direction"), argInt(args, "amount")); err != nil {
		return nil, nil, err
	}
	content, err := r.siftedContent(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"content": content}, nil, nil
}

func (r *Registry) handleUpload(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	if err := r.browser.Upload(ctx, argString(args, "selector"), argString(args, "file_path")); err != nil {
		return nil, nil, err
	}
	content, err := r.siftedContent(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"content": content}, nil, nil
}

func (r *Registry) handleWaitFor(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	timeout := time.Duration(argInt(args, "timeout_ms")) * time.Millisecond
	selector := argString(args, "selector")
	if err := r.browser.WaitForSelector(ctx, selector, timeout); err != nil {
		return nil, nil, err
	}
	return map[string]any{"selector": selector, "found": true}, nil, nil
}

// -- Memory tools --

func (r *Registry) handleMemorize(_ context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	note := argString(args, "note")
	tags := argStrings(args, "tags")
	entry := r.memory.Memorize(note, tags)
	return map[string]any{"status": "memorized", "timestamp": entry.Timestamp}, nil, nil
}

func (r *Registry) handleRecall(_ context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	entries := r.memory.Recall(argString(args, "query"), argStrings(args, "tags"))
	memories := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		memories = append(memories, map[string]any{
			"content":   e.Content,
			"tags":      e.Tags,
			"timestamp": e.Timestamp,
		})
	}
	return map[string]any{"memories": memories, "count": len(memories)}, nil, nil
}

// -- Agent tools --

func (r *Registry) handleAskUser(ctx context.Context, args map[string]any) (map[string]any, *schemas.Slot, error) {
	kind := schemas.SlotKind(argString(args, "kind"))
	switch kind {
	case schemas.SlotAnswer, schemas.SlotCredentials, schemas.SlotFilePath, schemas.SlotConfirmation:
	default:
		kind = schemas.SlotAnswer
	}
	name := argString(args, "name")
	if name == "" {
		name = "answer"
	}
	slot := &schemas.Slot{
		Kind:     kind,
		Name:     name,
		Question: argString(args, "question"),
	}
	// Seed the partial payload with where the agent was when it asked, so
	// the suspension context survives into the resumed history.
	if url, err := r.browser.CurrentURL(ctx); err == nil && url != "" {
		slot.Partial = map[string]any{"url": url}
	}
	return map[string]any{"status": "awaiting_user_input", "question": slot.Question}, slot, nil
}

// siftedContent reads the current page and reduces it for the model.
func (r *Registry) siftedContent(ctx context.Context) (string, error) {
	html, err := r.browser.Content(ctx)
	if err != nil {
		return "", err
	}
	return sift.Process(html, r.contentLimit), nil
}

func toolError(callID string, kind schemas.ErrorKind, message string) schemas.ToolResult {
	return schemas.ToolResult{
		CallID: callID,
		Err:    &schemas.ToolError{Kind: kind, Message: message},
	}
}

// classifyHandlerErr maps handler failures onto the agent-visible taxonomy.
// Browser errors get the session classification; an explicit ToolError
// passes through untouched.
func classifyHandlerErr(err error) schemas.ErrorKind {
	var te *schemas.ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return browser.Classify(err)
}

// -- Argument coercion --

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
