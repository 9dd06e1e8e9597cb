package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want schemas.ErrorKind
	}{
		{"nil", nil, ""},
		{"not found", &NotFoundError{Selector: "#x", Waited: 5 * time.Second}, schemas.ErrKindElementNotFound},
		{"wrapped not found", fmt.Errorf("click: %w", &NotFoundError{Selector: "#x"}), schemas.ErrKindElementNotFound},
		{"navigate timeout", &TimeoutError{Op: "navigate", Timeout: 30 * time.Second}, schemas.ErrKindNavigationTimeout},
		{"selector timeout", &TimeoutError{Op: "wait_for_selector", Timeout: 5 * time.Second}, schemas.ErrKindSelectorTimeout},
		{"click timeout", &TimeoutError{Op: "click", Timeout: 30 * time.Second}, schemas.ErrKindActionTimeout},
		{"no active page", ErrNoActivePage, schemas.ErrKindNoActivePage},
		{"wrapped no active page", fmt.Errorf("content: %w", ErrNoActivePage), schemas.ErrKindNoActivePage},
		{"session closed", ErrSessionClosed, schemas.ErrKindDetached},
		{"context deadline", context.DeadlineExceeded, schemas.ErrKindActionTimeout},
		{"dead target", errors.New("rpc error: target closed"), schemas.ErrKindDetached},
		{"anything else", errors.New("evaluate threw"), schemas.ErrKindExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `element "#submit" not found after 5s`,
		(&NotFoundError{Selector: "#submit", Waited: 5 * time.Second}).Error())
	assert.Equal(t, "navigate timed out after 30s",
		(&TimeoutError{Op: "navigate", Timeout: 30 * time.Second}).Error())

	inner := errors.New("boom")
	op := &OpError{Op: "click", Err: inner}
	assert.Equal(t, "click: boom", op.Error())
	assert.ErrorIs(t, op, inner)
}
