// File: internal/eventbus/eventbus.go
package eventbus

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

// Kind distinguishes the event channels delivered to subscribers.
type Kind string

const (
	KindTrace   Kind = "trace-event"
	KindAgent   Kind = "agent-event"
	KindBrowser Kind = "browser-update"
)

// Envelope wraps one event for fan-out. Exactly one payload field is set.
type Envelope struct {
	Kind  Kind                `json:"kind"`
	Trace *schemas.TraceEvent `json:"trace,omitempty"`
	Agent *schemas.AgentEvent `json:"agent,omitempty"`
}

// Bus is the append-only, subscribable stream of structured events. Trace
// events are additionally kept in a bounded ring for historical queries;
// agent events are broadcast only.
//
// Emitting never blocks: subscriber channels are bounded and the oldest
// buffered event is dropped when a slow subscriber falls behind.
type Bus struct {
	logger *zap.Logger

	mu        sync.RWMutex
	sessionID string
	ring      []schemas.TraceEvent
	ringSize  int
	subs      map[int]chan Envelope
	nextSubID int
	lastTS    time.Time
	bufSize   int
}

// New creates a Bus with the given trace-ring capacity and per-subscriber
// channel buffer.
func New(logger *zap.Logger, ringSize, subscriberBuffer int) *Bus {
	if ringSize <= 0 {
		ringSize = 2000
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 64
	}
	return &Bus{
		logger:    logger.Named("eventbus"),
		sessionID: uuid.New().String(),
		ring:      make([]schemas.TraceEvent, 0, ringSize),
		ringSize:  ringSize,
		subs:      make(map[int]chan Envelope),
		bufSize:   subscriberBuffer,
	}
}

// SessionID returns the identifier stamped on every trace event until the
// next Clear.
func (b *Bus) SessionID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

// stamp returns a timestamp that never moves backwards within the session.
// Callers must hold b.mu.
func (b *Bus) stamp() time.Time {
	now := time.Now().UTC()
	if now.Before(b.lastTS) {
		now = b.lastTS
	}
	b.lastTS = now
	return now
}

// EmitTrace records a leveled trace event and fans it out to subscribers.
func (b *Bus) EmitTrace(level schemas.TraceLevel, target, message string, fields map[string]any) schemas.TraceEvent {
	b.mu.Lock()
	ev := schemas.TraceEvent{
		ID:        uuid.New().String(),
		SessionID: b.sessionID,
		Timestamp: b.stamp(),
		Level:     level,
		Target:    target,
		Message:   message,
		Fields:    fields,
	}
	if len(b.ring) >= b.ringSize {
		// Drop oldest on overflow.
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:len(b.ring)-1]
	}
	b.ring = append(b.ring, ev)
	b.fanOutLocked(Envelope{Kind: KindTrace, Trace: &ev})
	b.mu.Unlock()
	return ev
}

// EmitAgent publishes a coarse agent event. Browser updates are routed to the
// dedicated browser-update channel kind so UI subscribers can cheaply filter.
func (b *Bus) EmitAgent(typ schemas.AgentEventType, message string, data map[string]any) schemas.AgentEvent {
	b.mu.Lock()
	ev := schemas.AgentEvent{
		Type:      typ,
		Message:   message,
		Timestamp: b.stamp(),
		Data:      data,
	}
	kind := KindAgent
	if typ == schemas.EventBrowserUpdate {
		kind = KindBrowser
	}
	b.fanOutLocked(Envelope{Kind: kind, Agent: &ev})
	b.mu.Unlock()
	return ev
}

// EmitBrowserUpdate publishes a page location change.
func (b *Bus) EmitBrowserUpdate(url string) {
	b.EmitAgent(schemas.EventBrowserUpdate, url, map[string]any{"url": url})
}

// fanOutLocked delivers to every subscriber without ever blocking the
// emitter. A full subscriber buffer loses its oldest event, not the newest.
func (b *Bus) fanOutLocked(env Envelope) {
	for id, ch := range b.subs {
		select {
		case ch <- env:
		default:
			select {
			case <-ch:
				b.logger.Debug("Dropped oldest event for lagging subscriber.", zap.Int("subscriber", id))
			default:
			}
			select {
			case ch <- env:
			default:
			}
		}
	}
}

// Subscribe returns a live feed starting from now, plus an unsubscribe
// function. The feed channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Envelope, func()) {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Envelope, b.bufSize)
	b.subs[id] = ch
	b.mu.Unlock()

	// The channel is closed exactly once, by whoever removes the entry
	// from the map first (unsubscribe or Close).
	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Query replays the trace history, optionally filtered by exact level and a
// case-sensitive substring over the message.
func (b *Bus) Query(level schemas.TraceLevel, substring string) []schemas.TraceEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]schemas.TraceEvent, 0, len(b.ring))
	for _, ev := range b.ring {
		if level != "" && ev.Level != level {
			continue
		}
		if substring != "" && !strings.Contains(ev.Message, substring) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Traces returns a copy of the full trace ring in emission order.
func (b *Bus) Traces() []schemas.TraceEvent {
	return b.Query("", "")
}

// Count returns the number of retained trace events.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ring)
}

// Clear empties the trace ring and starts a new session. Already-delivered
// live events are unaffected.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = b.ring[:0]
	b.sessionID = uuid.New().String()
}

// Close unsubscribes everyone. Emit calls after Close are no-ops for
// delivery but still append to the ring.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
