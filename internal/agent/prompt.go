package agent

import "github.com/xkilldash9x/nexus-agent/api/schemas"

const systemPrompt = `You are Nexus, an autonomous browser agent. Your mission is to accomplish the user's goal by driving a web browser with the tools provided, and to deliver a high-quality, structured report.

Guidelines:
- Work step by step: navigate, inspect the returned page content, then act.
- Page content is reduced to text and may be truncated; use the search tool to find details that fall outside the visible window.
- Use memorize to keep important findings and recall to retrieve them.
- If you need information only the user can provide (credentials, a file path, a decision), call ask_user and wait.
- When the goal is accomplished, respond WITHOUT any tool call. Format that final response as a JSON object: {"markdown_report": "...", "key_discoveries": ["..."], "sources": ["..."]}.`

// buildRequest assembles the provider request for the next iteration: goal,
// the most recent history window, and the declared tool surface.
func (c *Controller) buildRequest(task *schemas.Task, forceJSON bool) schemas.GenerationRequest {
	c.mu.Lock()
	turns := truncateHistory(task.History, c.cfg.HistoryTurns)
	c.mu.Unlock()

	req := schemas.GenerationRequest{
		System:      systemPrompt,
		Turns:       turns,
		Temperature: c.temperature,
		ForceJSON:   forceJSON,
	}
	if !forceJSON {
		req.Tools = c.registry.Definitions()
	}
	return req
}

// truncateHistory keeps the goal (the first turn) plus the most recent
// limit turns. The tool turn that answers a kept agent turn is always kept
// with it so no tool call arrives at the provider without its result.
func truncateHistory(history []schemas.Turn, limit int) []schemas.Turn {
	if limit <= 0 || len(history) <= limit {
		out := make([]schemas.Turn, len(history))
		copy(out, history)
		return out
	}

	start := len(history) - limit
	// Never split a tool-call/tool-result pair at the window edge.
	if history[start].Role == schemas.RoleTool {
		start--
	}

	out := make([]schemas.Turn, 0, limit+2)
	if start > 0 {
		out = append(out, history[0])
	}
	out = append(out, history[start:]...)
	return out
}
