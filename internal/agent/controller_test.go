package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/browser"
	"github.com/xkilldash9x/nexus-agent/internal/config"
	"github.com/xkilldash9x/nexus-agent/internal/eventbus"
	"github.com/xkilldash9x/nexus-agent/internal/memory"
	"github.com/xkilldash9x/nexus-agent/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedLLM replays a fixed sequence of generations. When the script runs
// out it repeats the last entry, which lets budget tests spin forever.
type scriptedLLM struct {
	mu        sync.Mutex
	script    []*schemas.Generation
	err       error
	requests  []schemas.GenerationRequest
	callCount int
}

func (s *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (*schemas.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	s.callCount++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.script) == 0 {
		return &schemas.Generation{Text: "done"}, nil
	}
	gen := s.script[0]
	if len(s.script) > 1 {
		s.script = s.script[1:]
	}
	return gen, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *scriptedLLM) request(i int) schemas.GenerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func toolCallGen(name string, args map[string]any) *schemas.Generation {
	return &schemas.Generation{
		ToolCalls: []schemas.ToolCall{{CallID: "call-" + name, Name: name, Arguments: args}},
	}
}

type fixture struct {
	controller *Controller
	llm        *scriptedLLM
	fake       *browser.Fake
	store      *memory.Store
	bus        *eventbus.Bus
}

func newFixture(t *testing.T, llm *scriptedLLM, mutate ...func(*Options)) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	fake := browser.NewFake()
	fake.AddPage("https://example.com", `<html><head><title>Example Domain</title></head>
<body><h1>Example Domain</h1><p>This domain is for use in illustrative examples.</p></body></html>`)

	store := memory.NewStore(logger)
	bus := eventbus.New(logger, 100, 16)
	t.Cleanup(bus.Close)

	registry := tools.NewRegistry(fake, store, 0, logger)

	opts := Options{
		Config: config.AgentConfig{
			MaxIterations: 10,
			MaxDuration:   10 * time.Second,
			HistoryTurns:  20,
			RetryPolicy:   "surface",
		},
		LLM:         llm,
		Registry:    registry,
		Browser:     fake,
		Memory:      store,
		Bus:         bus,
		MemoryScope: config.ScopeSession,
		Temperature: 0.2,
		Logger:      logger,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	return &fixture{
		controller: NewController(opts),
		llm:        llm,
		fake:       fake,
		store:      store,
		bus:        bus,
	}
}

// collectAgentEvents drains agent events in the background until cleanup.
func collectAgentEvents(t *testing.T, bus *eventbus.Bus) func() []schemas.AgentEvent {
	t.Helper()
	ch, unsubscribe := bus.Subscribe()

	var mu sync.Mutex
	var events []schemas.AgentEvent
	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range ch {
			if env.Agent != nil {
				mu.Lock()
				events = append(events, *env.Agent)
				mu.Unlock()
			}
		}
	}()
	t.Cleanup(func() {
		unsubscribe()
		<-done
	})

	return func() []schemas.AgentEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]schemas.AgentEvent, len(events))
		copy(out, events)
		return out
	}
}

func countEvents(events []schemas.AgentEvent, typ schemas.AgentEventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestHappyPathNavigateSearchComplete(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("navigate", map[string]any{"url": "https://example.com"}),
		toolCallGen("search", map[string]any{"query": "Example"}),
		{Text: `{"markdown_report":"The title of example.com is **Example Domain**.","sources":["https://example.com"]}`},
	}}
	f := newFixture(t, llm)
	getEvents := collectAgentEvents(t, f.bus)

	task, err := f.controller.Start(context.Background(), "find the current title of example.com")
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskRunning, task.Status)

	f.controller.Wait()
	final := f.controller.Snapshot()

	require.Equal(t, schemas.TaskCompleted, final.Status)
	require.NotNil(t, final.Report)
	assert.Contains(t, final.Report.Markdown, "Example Domain")
	assert.Equal(t, []string{"https://example.com"}, final.Report.Sources)

	// Every tool call got exactly one result.
	calls, results := 0, 0
	for _, turn := range final.History {
		calls += len(turn.ToolCalls)
		results += len(turn.ToolResults)
	}
	assert.Equal(t, calls, results)
	assert.Equal(t, 2, calls)

	assert.Equal(t, []string{"navigate https://example.com"}, f.fake.Journal)

	require.Eventually(t, func() bool {
		return countEvents(getEvents(), schemas.EventSuccess) == 1
	}, time.Second, 10*time.Millisecond)
	events := getEvents()
	assert.Equal(t, 2, countEvents(events, schemas.EventToolCall))
	assert.Equal(t, 2, countEvents(events, schemas.EventToolResult))
	assert.Zero(t, countEvents(events, schemas.EventError))
}

func TestElementNotFoundDoesNotFailTask(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("navigate", map[string]any{"url": "https://example.com"}),
		toolCallGen("click", map[string]any{"selector": "#missing"}),
		{Text: "The element is not on the page."},
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "click the missing button")
	require.NoError(t, err)
	f.controller.Wait()

	final := f.controller.Snapshot()
	require.Equal(t, schemas.TaskCompleted, final.Status)

	// The failed click surfaced as a typed ToolResult error in history.
	var clickResult *schemas.ToolResult
	for _, turn := range final.History {
		for i, res := range turn.ToolResults {
			if res.CallID == "call-click" {
				clickResult = &turn.ToolResults[i]
			}
		}
	}
	require.NotNil(t, clickResult)
	require.NotNil(t, clickResult.Err)
	assert.Equal(t, schemas.ErrKindElementNotFound, clickResult.Err.Kind)
}

func TestAskUserSuspendsAndResumes(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("navigate", map[string]any{"url": "https://example.com"}),
		toolCallGen("ask_user", map[string]any{
			"question": "What email should I use?",
			"kind":     "credentials",
			"name":     "email",
		}),
		{Text: `{"markdown_report":"Signed up with the provided email."}`},
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "sign up for the newsletter")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := f.controller.Snapshot()
		return snap != nil && snap.Status == schemas.TaskInputRequired
	}, time.Second, 10*time.Millisecond)

	snap := f.controller.Snapshot()
	require.NotNil(t, snap.Slot)
	assert.Equal(t, "email", snap.Slot.Name)
	assert.Equal(t, schemas.SlotCredentials, snap.Slot.Kind)
	assert.Equal(t, "What email should I use?", snap.Slot.Question)

	resumed, err := f.controller.Resume("user@example.com")
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskRunning, resumed.Status)
	assert.Nil(t, resumed.Slot)

	f.controller.Wait()
	final := f.controller.Snapshot()
	require.Equal(t, schemas.TaskCompleted, final.Status)

	// The answer was folded into history as a user turn carrying the slot,
	// with the answer and the suspension context in its partial payload.
	var answered *schemas.Turn
	for i, turn := range final.History {
		if turn.Role == schemas.RoleUser && turn.Content == "user@example.com" {
			answered = &final.History[i]
		}
	}
	require.NotNil(t, answered)
	require.NotNil(t, answered.Answered)
	assert.Equal(t, "email", answered.Answered.Name)
	assert.Equal(t, "user@example.com", answered.Answered.Partial["email"])
	assert.Equal(t, "https://example.com", answered.Answered.Partial["url"])
}

func TestStartWhileRunningFails(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("ask_user", map[string]any{"question": "hold on"}),
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "first goal")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.controller.Snapshot().Status == schemas.TaskInputRequired
	}, time.Second, 10*time.Millisecond)

	_, err = f.controller.Start(context.Background(), "second goal")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, f.controller.Reset(context.Background()))
}

func TestResumeWithoutSlotFails(t *testing.T) {
	f := newFixture(t, &scriptedLLM{})

	_, err := f.controller.Resume("anything")
	assert.ErrorIs(t, err, ErrNoActiveSlot)

	_, err = f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	f.controller.Wait()

	_, err = f.controller.Resume("anything")
	assert.ErrorIs(t, err, ErrNoActiveSlot)
}

func TestBudgetExceededFailsWithSingleErrorEvent(t *testing.T) {
	// The script never ends: the last generation repeats forever.
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("navigate", map[string]any{"url": "https://example.com"}),
	}}
	f := newFixture(t, llm, func(o *Options) {
		o.Config.MaxIterations = 3
	})
	getEvents := collectAgentEvents(t, f.bus)

	_, err := f.controller.Start(context.Background(), "loop forever")
	require.NoError(t, err)
	f.controller.Wait()

	final := f.controller.Snapshot()
	require.Equal(t, schemas.TaskFailed, final.Status)
	require.NotNil(t, final.Failure)
	assert.Equal(t, schemas.ErrKindBudgetExceeded, final.Failure.Kind)
	assert.Equal(t, 3, f.llm.calls())

	require.Eventually(t, func() bool {
		return countEvents(getEvents(), schemas.EventError) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, countEvents(getEvents(), schemas.EventError))
}

func TestProviderErrorFailsTask(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("provider unreachable")}
	f := newFixture(t, llm)
	getEvents := collectAgentEvents(t, f.bus)

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	f.controller.Wait()

	final := f.controller.Snapshot()
	require.Equal(t, schemas.TaskFailed, final.Status)
	assert.Equal(t, schemas.ErrKindProvider, final.Failure.Kind)

	require.Eventually(t, func() bool {
		return countEvents(getEvents(), schemas.EventError) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestResetThenStartIsIdleResumable(t *testing.T) {
	f := newFixture(t, &scriptedLLM{err: errors.New("boom")})

	_, err := f.controller.Start(context.Background(), "first")
	require.NoError(t, err)
	f.controller.Wait()
	require.Equal(t, schemas.TaskFailed, f.controller.Snapshot().Status)

	require.NoError(t, f.controller.Reset(context.Background()))
	assert.Nil(t, f.controller.Snapshot())
	assert.False(t, f.fake.Active())

	f.llm.mu.Lock()
	f.llm.err = nil
	f.llm.mu.Unlock()

	task, err := f.controller.Start(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskRunning, task.Status)
	f.controller.Wait()
	assert.Equal(t, schemas.TaskCompleted, f.controller.Snapshot().Status)
}

func TestToolCallsWinOverCoPresentText(t *testing.T) {
	gen := toolCallGen("navigate", map[string]any{"url": "https://example.com"})
	gen.Text = "I think I'm done... actually let me check one more thing."
	llm := &scriptedLLM{script: []*schemas.Generation{
		gen,
		{Text: `{"markdown_report":"done now"}`},
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	f.controller.Wait()

	// The navigate happened: the text did not terminate the loop.
	assert.Contains(t, f.fake.Journal, "navigate https://example.com")
	assert.Equal(t, 2, f.llm.calls())
	assert.Equal(t, schemas.TaskCompleted, f.controller.Snapshot().Status)
}

func TestTaskScopedMemoryClearsOnStart(t *testing.T) {
	f := newFixture(t, &scriptedLLM{}, func(o *Options) {
		o.MemoryScope = config.ScopeTask
	})
	f.store.Memorize("stale fact", nil)

	_, err := f.controller.Start(context.Background(), "fresh goal")
	require.NoError(t, err)
	f.controller.Wait()

	assert.Empty(t, f.store.All())
}

func TestSessionScopedMemorySurvivesStart(t *testing.T) {
	f := newFixture(t, &scriptedLLM{})
	f.store.Memorize("durable fact", nil)

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	f.controller.Wait()

	assert.Len(t, f.store.All(), 1)
}

func TestAutoRetryPolicyRetriesTimeoutsOnce(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("navigate", map[string]any{"url": "https://flaky.test"}),
		{Text: "gave up"},
	}}
	f := newFixture(t, llm, func(o *Options) {
		o.Config.RetryPolicy = "auto"
	})
	// First navigate times out (unknown URL), the retry succeeds.
	f.fake.AddPage("https://flaky.test", "<html><p>recovered</p></html>")
	f.fake.NavigateErr = &browser.TimeoutError{Op: "navigate", Timeout: time.Second}

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	f.controller.Wait()

	final := f.controller.Snapshot()
	require.Equal(t, schemas.TaskCompleted, final.Status)

	var navResult *schemas.ToolResult
	for _, turn := range final.History {
		for i, res := range turn.ToolResults {
			if res.CallID == "call-navigate" {
				navResult = &turn.ToolResults[i]
			}
		}
	}
	require.NotNil(t, navResult)
	assert.True(t, navResult.Ok(), "retry should have recovered the timeout")
}

func TestSettledFiresOnSuspensionWithoutResume(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("ask_user", map[string]any{"question": "Which account?"}),
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)

	// A caller with no way to answer must still be woken when the task
	// parks for input; the loop itself stays alive.
	select {
	case <-f.controller.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("Settled never fired for a suspended task")
	}
	assert.Equal(t, schemas.TaskInputRequired, f.controller.Snapshot().Status)

	require.NoError(t, f.controller.Reset(context.Background()))
}

func TestSettledRearmsAfterResumeAndFiresOnCompletion(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		toolCallGen("ask_user", map[string]any{"question": "Proceed?"}),
		{Text: `{"markdown_report":"proceeded"}`},
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	<-f.controller.Settled()

	_, err = f.controller.Resume("yes")
	require.NoError(t, err)

	select {
	case <-f.controller.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("Settled never fired after resumption")
	}
	assert.Equal(t, schemas.TaskCompleted, f.controller.Snapshot().Status)

	// Idle controllers report an already-settled state.
	require.NoError(t, f.controller.Reset(context.Background()))
	select {
	case <-f.controller.Settled():
	default:
		t.Fatal("idle controller should return a closed Settled channel")
	}
}

func TestNonJSONFinalRetriesInJSONMode(t *testing.T) {
	llm := &scriptedLLM{script: []*schemas.Generation{
		{Text: "Here is what I found, in prose."},
		{Text: `{"markdown_report":"Recovered via JSON mode.","key_discoveries":["x"]}`},
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	f.controller.Wait()

	final := f.controller.Snapshot()
	require.Equal(t, schemas.TaskCompleted, final.Status)
	require.NotNil(t, final.Report)
	assert.Equal(t, "Recovered via JSON mode.", final.Report.Markdown)

	require.Equal(t, 2, f.llm.calls())
	assert.False(t, f.llm.request(0).ForceJSON)
	retry := f.llm.request(1)
	assert.True(t, retry.ForceJSON)
	assert.Empty(t, retry.Tools, "the JSON-mode retry must withhold the tool surface")
}

func TestJSONModeRetryKeepsProseFallback(t *testing.T) {
	// The retry repeats the same prose; the fallback report stands.
	llm := &scriptedLLM{script: []*schemas.Generation{
		{Text: "Still just prose."},
	}}
	f := newFixture(t, llm)

	_, err := f.controller.Start(context.Background(), "goal")
	require.NoError(t, err)
	f.controller.Wait()

	final := f.controller.Snapshot()
	require.Equal(t, schemas.TaskCompleted, final.Status)
	assert.Equal(t, "Still just prose.", final.Report.Markdown)
	assert.Equal(t, 2, f.llm.calls())
}
