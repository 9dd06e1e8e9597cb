package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupBus(t *testing.T, ringSize, bufSize int) *Bus {
	t.Helper()
	bus := New(zaptest.NewLogger(t), ringSize, bufSize)
	t.Cleanup(bus.Close)
	return bus
}

func TestEmitTrace_AppendsAndBroadcasts(t *testing.T) {
	bus := setupBus(t, 10, 4)

	feed, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	emitted := bus.EmitTrace(schemas.LevelInfo, "browser", "navigation complete", map[string]any{"url": "https://example.com"})
	assert.NotEmpty(t, emitted.ID)
	assert.Equal(t, bus.SessionID(), emitted.SessionID)

	select {
	case env := <-feed:
		assert.Equal(t, KindTrace, env.Kind)
		require.NotNil(t, env.Trace)
		assert.Equal(t, "navigation complete", env.Trace.Message)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for trace delivery")
	}

	assert.Equal(t, 1, bus.Count())
}

func TestEmitAgent_BrowserUpdateKind(t *testing.T) {
	bus := setupBus(t, 10, 4)
	feed, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.EmitAgent(schemas.EventBrowserUpdate, "https://example.com", nil)
	bus.EmitAgent(schemas.EventSystem, "agent started", nil)

	env := <-feed
	assert.Equal(t, KindBrowser, env.Kind)
	env = <-feed
	assert.Equal(t, KindAgent, env.Kind)
	assert.Equal(t, schemas.EventSystem, env.Agent.Type)

	// Agent events never enter the trace ring.
	assert.Equal(t, 0, bus.Count())
}

func TestRing_DropsOldestOnOverflow(t *testing.T) {
	bus := setupBus(t, 3, 4)

	for i := 0; i < 5; i++ {
		bus.EmitTrace(schemas.LevelInfo, "loop", fmt.Sprintf("event %d", i), nil)
	}

	traces := bus.Traces()
	require.Len(t, traces, 3)
	assert.Equal(t, "event 2", traces[0].Message)
	assert.Equal(t, "event 4", traces[2].Message)
}

func TestQuery_LevelAndTextFilters(t *testing.T) {
	bus := setupBus(t, 10, 4)
	bus.EmitTrace(schemas.LevelInfo, "browser", "navigated to example.com", nil)
	bus.EmitTrace(schemas.LevelError, "browser", "selector timed out", nil)
	bus.EmitTrace(schemas.LevelError, "llm", "provider unavailable", nil)

	assert.Len(t, bus.Query(schemas.LevelError, ""), 2)
	assert.Len(t, bus.Query(schemas.LevelError, "selector"), 1)
	assert.Len(t, bus.Query("", "example.com"), 1)
	assert.Len(t, bus.Query(schemas.LevelDebug, ""), 0)
}

func TestTimestamps_MonotonicWithinSession(t *testing.T) {
	bus := setupBus(t, 100, 4)

	for i := 0; i < 50; i++ {
		bus.EmitTrace(schemas.LevelDebug, "t", "tick", nil)
	}
	traces := bus.Traces()
	for i := 1; i < len(traces); i++ {
		assert.False(t, traces[i].Timestamp.Before(traces[i-1].Timestamp),
			"event %d timestamp went backwards", i)
	}
}

func TestSlowSubscriber_NeverBlocksEmitter(t *testing.T) {
	bus := setupBus(t, 100, 2)

	// Subscribe but never read: the buffer holds 2, everything else must be
	// dropped without stalling the emitter.
	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.EmitTrace(schemas.LevelInfo, "t", "burst", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitter blocked on a slow subscriber")
	}
	assert.Equal(t, 50, bus.Count())
}

func TestLaggingSubscriber_KeepsNewestEvents(t *testing.T) {
	bus := setupBus(t, 100, 2)
	feed, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		bus.EmitTrace(schemas.LevelInfo, "t", fmt.Sprintf("event %d", i), nil)
	}

	// The buffer holds two events; they must be the most recent ones.
	first := <-feed
	second := <-feed
	assert.Equal(t, "event 8", first.Trace.Message)
	assert.Equal(t, "event 9", second.Trace.Message)
}

func TestClear_EmptiesRingAndRotatesSession(t *testing.T) {
	bus := setupBus(t, 10, 4)
	bus.EmitTrace(schemas.LevelInfo, "t", "before clear", nil)
	oldSession := bus.SessionID()

	bus.Clear()

	assert.Equal(t, 0, bus.Count())
	assert.NotEqual(t, oldSession, bus.SessionID())
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	bus := setupBus(t, 10, 4)
	_, unsubscribe := bus.Subscribe()
	unsubscribe()
	// Second call must not panic on the closed channel.
	unsubscribe()

	bus.EmitTrace(schemas.LevelInfo, "t", "after unsubscribe", nil)
	assert.Equal(t, 1, bus.Count())
}
