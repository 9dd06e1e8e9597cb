package agent

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// finalReport parses the model's closing message into a structured report.
// Models asked for JSON frequently wrap it in code fences or emit near-JSON;
// strip and repair before falling back to treating the whole text as the
// markdown body. The second return is false on that fallback, letting the
// loop decide whether to retry in provider JSON mode.
func (c *Controller) finalReport(text string) (*schemas.Report, bool) {
	candidate := stripCodeFence(strings.TrimSpace(text))

	if report, ok := parseReport(candidate); ok {
		return report, true
	}
	if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
		if report, ok := parseReport(repaired); ok {
			return report, true
		}
	}

	return &schemas.Report{Markdown: strings.TrimSpace(text)}, false
}

func parseReport(candidate string) (*schemas.Report, bool) {
	if !strings.HasPrefix(candidate, "{") {
		return nil, false
	}
	var report schemas.Report
	if err := json.UnmarshalFromString(candidate, &report); err != nil {
		return nil, false
	}
	if report.Markdown == "" {
		return nil, false
	}
	return &report, true
}

// stripCodeFence unwraps ```json ... ``` style fencing.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line.
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
