// File: api/schemas/report.go
package schemas

// Report is the structured final answer of a completed task: a synthesized
// markdown write-up plus the discoveries and sources it was built from.
type Report struct {
	Markdown       string   `json:"markdown_report"`
	KeyDiscoveries []string `json:"key_discoveries,omitempty"`
	Sources        []string `json:"sources,omitempty"`
}
