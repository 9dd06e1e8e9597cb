// Package agent drives the reason-act loop: one task at a time, a strict
// state machine around it, and every transition published on the event bus.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/config"
	"github.com/xkilldash9x/nexus-agent/internal/eventbus"
	"github.com/xkilldash9x/nexus-agent/internal/tools"
)

// Controller owns the single active task and its loop goroutine. All state
// transitions happen under c.mu; the loop goroutine reads and writes task
// state only through the controller's methods.
type Controller struct {
	logger      *zap.Logger
	cfg         config.AgentConfig
	llm         schemas.LLMClient
	registry    *tools.Registry
	browser     schemas.BrowserSession
	memory      schemas.MemoryStore
	bus         *eventbus.Bus
	memoryScope config.MemoryScope
	temperature float32

	mu       sync.Mutex
	task     *schemas.Task
	cancel   context.CancelFunc
	done     chan struct{}
	resumeCh chan string
	settled  chan struct{}
}

// Options collects the controller's collaborators.
type Options struct {
	Config      config.AgentConfig
	LLM         schemas.LLMClient
	Registry    *tools.Registry
	Browser     schemas.BrowserSession
	Memory      schemas.MemoryStore
	Bus         *eventbus.Bus
	MemoryScope config.MemoryScope
	Temperature float32
	Logger      *zap.Logger
}

// NewController wires the loop against its collaborators.
func NewController(opts Options) *Controller {
	return &Controller{
		logger:      opts.Logger.Named("agent"),
		cfg:         opts.Config,
		llm:         opts.LLM,
		registry:    opts.Registry,
		browser:     opts.Browser,
		memory:      opts.Memory,
		bus:         opts.Bus,
		memoryScope: opts.MemoryScope,
		temperature: opts.Temperature,
	}
}

// Start creates a task for the goal and launches the loop. It fails with
// ErrAlreadyRunning while a previous task is still running or suspended.
func (c *Controller) Start(ctx context.Context, goal string) (*schemas.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task != nil && !c.task.Status.Terminal() {
		return nil, ErrAlreadyRunning
	}

	if c.memoryScope == config.ScopeTask {
		c.memory.Clear()
	}

	task := &schemas.Task{
		ID:        uuid.New().String(),
		Goal:      goal,
		Status:    schemas.TaskRunning,
		CreatedAt: time.Now().UTC(),
		History: []schemas.Turn{
			{Role: schemas.RoleUser, Content: goal},
		},
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.task = task
	c.cancel = cancel
	c.done = make(chan struct{})
	c.resumeCh = make(chan string, 1)
	c.settled = make(chan struct{})

	c.logger.Info("Task started.", zap.String("task_id", task.ID), zap.String("goal", goal))
	c.bus.EmitTrace(schemas.LevelInfo, "nexus.agent", "Task started", map[string]any{"task_id": task.ID})
	c.bus.EmitAgent(schemas.EventSystem, "Agent started with goal: "+goal, map[string]any{"task_id": task.ID})

	go c.runLoop(loopCtx, task)

	return c.snapshotLocked(), nil
}

// Resume feeds the user's answer into a suspended task. It fails with
// ErrNoActiveSlot unless the task is awaiting input.
func (c *Controller) Resume(answer string) (*schemas.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task == nil || c.task.Status != schemas.TaskInputRequired || c.task.Slot == nil {
		return nil, ErrNoActiveSlot
	}

	slot := c.task.Slot
	if slot.Partial == nil {
		slot.Partial = make(map[string]any)
	}
	slot.Partial[slot.Name] = answer

	// The answered slot travels with the turn so the partial payload stays
	// visible in history after the slot is cleared.
	c.task.History = append(c.task.History, schemas.Turn{
		Role:     schemas.RoleUser,
		Content:  answer,
		Answered: slot,
	})
	c.task.Slot = nil
	c.task.Status = schemas.TaskRunning
	// Re-arm for the next settle: the task is live again.
	c.settled = make(chan struct{})

	c.logger.Info("Task resumed.", zap.String("task_id", c.task.ID), zap.String("slot", slot.Name))
	c.bus.EmitAgent(schemas.EventSystem, "User provided input for: "+slot.Name, nil)

	// Non-blocking: the loop is parked on this channel.
	select {
	case c.resumeCh <- answer:
	default:
	}

	return c.snapshotLocked(), nil
}

// Reset cancels any running loop, discards the task and tears down the
// browser page. The controller returns to idle and can start a fresh task.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.logger.Warn("Timed out waiting for loop to stop during reset.")
		case <-ctx.Done():
		}
	}

	err := c.browser.Reset(ctx)

	c.mu.Lock()
	c.task = nil
	c.cancel = nil
	c.done = nil
	c.resumeCh = nil
	c.settleLocked()
	c.mu.Unlock()

	c.logger.Info("Controller reset.")
	c.bus.EmitTrace(schemas.LevelInfo, "nexus.agent", "Session reset", nil)
	return err
}

// Snapshot returns a copy of the current task, or nil when idle.
func (c *Controller) Snapshot() *schemas.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until the current loop goroutine exits; returns immediately
// when nothing is running. A suspended task keeps its loop alive, so callers
// that cannot answer input must watch Settled instead.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Settled returns a channel that closes when the task next reaches a terminal
// state or suspends awaiting input. Idle controllers return a closed channel;
// Resume re-arms the signal for the following settle.
func (c *Controller) Settled() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.settled
}

// settleLocked wakes every Settled waiter. Callers hold c.mu.
func (c *Controller) settleLocked() {
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
}

func (c *Controller) snapshotLocked() *schemas.Task {
	if c.task == nil {
		return nil
	}
	cp := *c.task
	cp.History = make([]schemas.Turn, len(c.task.History))
	copy(cp.History, c.task.History)
	if c.task.Slot != nil {
		slot := *c.task.Slot
		cp.Slot = &slot
	}
	if c.task.Report != nil {
		rep := *c.task.Report
		cp.Report = &rep
	}
	if c.task.Failure != nil {
		f := *c.task.Failure
		cp.Failure = &f
	}
	return &cp
}

// -- State transitions used by the loop goroutine --

func (c *Controller) appendTurn(task *schemas.Task, turn schemas.Turn) {
	c.mu.Lock()
	task.History = append(task.History, turn)
	c.mu.Unlock()
}

func (c *Controller) suspend(task *schemas.Task, slot *schemas.Slot) {
	c.mu.Lock()
	task.Slot = slot
	task.Status = schemas.TaskInputRequired
	c.settleLocked()
	c.mu.Unlock()

	c.logger.Info("Task suspended awaiting input.",
		zap.String("task_id", task.ID), zap.String("slot", slot.Name))
	c.bus.EmitAgent(schemas.EventSystem, slot.Question, map[string]any{
		"slot": slot.Name,
		"kind": string(slot.Kind),
	})
}

func (c *Controller) complete(task *schemas.Task, report *schemas.Report) {
	c.mu.Lock()
	task.Report = report
	task.Status = schemas.TaskCompleted
	c.settleLocked()
	c.mu.Unlock()

	c.logger.Info("Task completed.", zap.String("task_id", task.ID))
	c.bus.EmitAgent(schemas.EventSuccess, "Agent finished: "+report.Markdown, nil)
}

func (c *Controller) fail(task *schemas.Task, kind schemas.ErrorKind, message string) {
	c.mu.Lock()
	task.Failure = &schemas.ToolError{Kind: kind, Message: message}
	task.Status = schemas.TaskFailed
	c.settleLocked()
	c.mu.Unlock()

	c.logger.Error("Task failed.",
		zap.String("task_id", task.ID), zap.String("kind", string(kind)), zap.String("message", message))
	// Exactly one error event per fatal failure.
	c.bus.EmitAgent(schemas.EventError, message, map[string]any{"kind": string(kind)})
}

// awaitResume parks the loop until Resume delivers an answer or the context
// dies. Returns false when the loop should exit.
func (c *Controller) awaitResume(ctx context.Context) bool {
	c.mu.Lock()
	ch := c.resumeCh
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return false
	case <-ch:
		return true
	}
}
