package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

// Sentinel errors for session state. Operation failures wrap one of these
// (or OpError) so callers can classify without string matching.
var (
	// ErrNoActivePage is returned by page-scoped operations before any
	// successful navigation.
	ErrNoActivePage = errors.New("no active page, navigate to a URL first")
	// ErrSessionClosed is returned once the session has been shut down.
	ErrSessionClosed = errors.New("browser session is closed")
)

// NotFoundError reports a selector that matched nothing within its wait
// window.
type NotFoundError struct {
	Selector string
	Waited   time.Duration
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element %q not found after %s", e.Selector, e.Waited)
}

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// OpError wraps a chromedp failure with the operation that produced it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

// Classify maps a session error onto the wire-level error taxonomy the
// tool layer reports to the model.
func Classify(err error) schemas.ErrorKind {
	if err == nil {
		return ""
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return schemas.ErrKindElementNotFound
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		switch timeout.Op {
		case "navigate":
			return schemas.ErrKindNavigationTimeout
		case "wait_for_selector":
			return schemas.ErrKindSelectorTimeout
		default:
			return schemas.ErrKindActionTimeout
		}
	}

	switch {
	case errors.Is(err, ErrNoActivePage):
		return schemas.ErrKindNoActivePage
	case errors.Is(err, ErrSessionClosed):
		return schemas.ErrKindDetached
	case errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrKindActionTimeout
	}

	// chromedp surfaces a dead target as a plain error string.
	if msg := err.Error(); strings.Contains(msg, "target closed") || strings.Contains(msg, "detached") {
		return schemas.ErrKindDetached
	}

	return schemas.ErrKindExecution
}
