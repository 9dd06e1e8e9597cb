// File: api/schemas/errors.go
package schemas

// ErrorKind is a structured error code surfaced in ToolResults and task
// failures. Using a dedicated type keeps the vocabulary restricted to the
// constants below so the model and observers see a stable taxonomy.
type ErrorKind string

const (
	// -- Recoverable, surfaced to the model as ToolResult errors --
	ErrKindValidation        ErrorKind = "VALIDATION_ERROR"
	ErrKindUnknownTool       ErrorKind = "UNKNOWN_TOOL"
	ErrKindNavigationTimeout ErrorKind = "NAVIGATION_TIMEOUT"
	ErrKindSelectorTimeout   ErrorKind = "SELECTOR_TIMEOUT"
	ErrKindActionTimeout     ErrorKind = "ACTION_TIMEOUT"
	ErrKindElementNotFound   ErrorKind = "ELEMENT_NOT_FOUND"
	ErrKindDetached          ErrorKind = "DETACHED"
	ErrKindNoActivePage      ErrorKind = "NO_ACTIVE_PAGE"
	ErrKindExecution         ErrorKind = "EXECUTION_FAILURE"

	// -- Task-level --
	ErrKindProvider       ErrorKind = "PROVIDER_ERROR"
	ErrKindBudgetExceeded ErrorKind = "BUDGET_EXCEEDED"
	ErrKindInternal       ErrorKind = "INTERNAL_FAULT"
)

// Recoverable reports whether an error of this kind should be folded back into
// the conversation as a ToolResult rather than failing the task.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ErrKindProvider, ErrKindBudgetExceeded, ErrKindInternal:
		return false
	default:
		return true
	}
}
