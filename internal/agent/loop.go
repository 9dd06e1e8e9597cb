package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

// runLoop is the reason-act cycle. It runs in its own goroutine, one per
// task, and settles the task into a terminal or suspended state before
// exiting.
func (c *Controller) runLoop(ctx context.Context, task *schemas.Task) {
	defer close(c.done)

	deadline := time.Now().Add(c.cfg.MaxDuration)

	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			c.logger.Debug("Loop cancelled.", zap.String("task_id", task.ID))
			return
		}
		if iteration >= c.cfg.MaxIterations || time.Now().After(deadline) {
			c.fail(task, schemas.ErrKindBudgetExceeded, fmt.Sprintf(
				"budget exhausted after %d iterations (limit %d, wall clock %s)",
				iteration, c.cfg.MaxIterations, c.cfg.MaxDuration))
			return
		}

		c.bus.EmitTrace(schemas.LevelDebug, "nexus.agent.loop", "Iteration starting",
			map[string]any{"iteration": iteration})

		gen, err := c.llm.Generate(ctx, c.buildRequest(task, false))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(task, schemas.ErrKindProvider, fmt.Sprintf("LLM call failed: %v", err))
			return
		}

		// Tool calls win over co-present text: the loop is not done yet.
		if len(gen.ToolCalls) > 0 {
			slot := c.executeToolCalls(ctx, task, gen)
			if slot != nil {
				c.suspend(task, slot)
				if !c.awaitResume(ctx) {
					return
				}
			}
			continue
		}

		report, structured := c.finalReport(gen.Text)
		if !structured && ctx.Err() == nil {
			report = c.retryReportJSON(ctx, task, report)
		}
		c.complete(task, report)
		return
	}
}

// retryReportJSON re-asks for the closing report with provider JSON mode on
// and the tool surface withheld. The prose fallback stands if the retry fails
// or still does not parse.
func (c *Controller) retryReportJSON(ctx context.Context, task *schemas.Task, fallback *schemas.Report) *schemas.Report {
	c.bus.EmitTrace(schemas.LevelWarn, "nexus.agent.loop", "Final report was not JSON, retrying in JSON mode", nil)

	gen, err := c.llm.Generate(ctx, c.buildRequest(task, true))
	if err != nil {
		c.logger.Warn("JSON-mode report retry failed.", zap.Error(err))
		return fallback
	}
	if report, ok := c.finalReport(gen.Text); ok {
		return report
	}
	return fallback
}

// executeToolCalls dispatches the batch sequentially. Every call gets
// exactly one result before the next LLM invocation, even when one of them
// requests user input; the first slot seen wins and suspends the task after
// the batch finishes.
func (c *Controller) executeToolCalls(ctx context.Context, task *schemas.Task, gen *schemas.Generation) *schemas.Slot {
	c.appendTurn(task, schemas.Turn{
		Role:      schemas.RoleAgent,
		Content:   gen.Text,
		ToolCalls: gen.ToolCalls,
	})

	var pendingSlot *schemas.Slot
	results := make([]schemas.ToolResult, 0, len(gen.ToolCalls))

	for _, call := range gen.ToolCalls {
		if ctx.Err() != nil {
			break
		}

		c.bus.EmitAgent(schemas.EventToolCall, describeCall(call), map[string]any{
			"tool":    call.Name,
			"call_id": call.CallID,
		})

		result, slot := c.dispatchWithPolicy(ctx, call)
		results = append(results, result)

		if result.Ok() {
			c.bus.EmitAgent(schemas.EventToolResult, fmt.Sprintf("%s succeeded", call.Name),
				map[string]any{"call_id": call.CallID})
		} else {
			c.bus.EmitAgent(schemas.EventToolResult, fmt.Sprintf("%s failed: %s", call.Name, result.Err.Message),
				map[string]any{"call_id": call.CallID, "kind": string(result.Err.Kind)})
		}

		if slot != nil && pendingSlot == nil {
			pendingSlot = slot
		}
	}

	c.appendTurn(task, schemas.Turn{
		Role:        schemas.RoleTool,
		ToolResults: results,
	})
	return pendingSlot
}

// dispatchWithPolicy runs one tool call under the configured timeout retry
// policy: "auto" silently retries a timed-out call once, "surface" (the
// default) hands the timeout straight to the model.
func (c *Controller) dispatchWithPolicy(ctx context.Context, call schemas.ToolCall) (schemas.ToolResult, *schemas.Slot) {
	result, slot := c.registry.Dispatch(ctx, call)

	if c.cfg.RetryPolicy == "auto" && !result.Ok() && isTimeoutKind(result.Err.Kind) && ctx.Err() == nil {
		c.bus.EmitTrace(schemas.LevelWarn, "nexus.agent.loop", "Tool timed out, retrying once",
			map[string]any{"tool": call.Name, "kind": string(result.Err.Kind)})
		result, slot = c.registry.Dispatch(ctx, call)
	}
	return result, slot
}

func isTimeoutKind(kind schemas.ErrorKind) bool {
	switch kind {
	case schemas.ErrKindNavigationTimeout, schemas.ErrKindSelectorTimeout, schemas.ErrKindActionTimeout:
		return true
	default:
		return false
	}
}

func describeCall(call schemas.ToolCall) string {
	switch call.Name {
	case "navigate":
		if url, ok := call.Arguments["url"].(string); ok {
			return "Navigating to " + url
		}
	case "click":
		if sel, ok := call.Arguments["selector"].(string); ok {
			return "Clicking '" + sel + "'"
		}
	case "search":
		if q, ok := call.Arguments["query"].(string); ok {
			return "Finding '" + q + "' in page"
		}
	case "memorize":
		if note, ok := call.Arguments["note"].(string); ok {
			return "Memorizing note: " + note
		}
	}
	return "Calling " + call.Name
}
