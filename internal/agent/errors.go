package agent

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a task is active.
	ErrAlreadyRunning = errors.New("a task is already running")
	// ErrNoActiveSlot is returned by Resume when no input is being awaited.
	ErrNoActiveSlot = errors.New("no input is being awaited")
)
