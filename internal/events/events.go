// Package events implements the core's fixed event taxonomy (spec §6.3) as a
// typed fan-out bus. It generalizes the teacher's ambient globals — the
// callback-map "feedback loops" wired up in
// kernel/threads/intelligence.initializeFeedbackLoops — into one explicitly
// owned component every subsystem is constructed with, per the design note
// in spec §9 ("ambient globals ... become explicitly owned subsystems").
package events

import "sync"

// Name is one of the fixed event kinds the core emits.
type Name string

const (
	StrategySelected    Name = "strategy.selected"
	CacheHit            Name = "cache.hit"
	CacheMiss           Name = "cache.miss"
	CacheEvicted        Name = "cache.evicted"
	CircuitStateChange  Name = "circuit.stateChange"
	CircuitRejected     Name = "circuit.rejected"
	RetryAttempt        Name = "retry.attempt"
	BatcherEnqueue      Name = "batcher.enqueue"
	BatcherProcessed    Name = "batcher.processed"
	BatcherError        Name = "batcher.error"
	QueueEnqueue        Name = "queue.enqueue"
	QueueProcessed      Name = "queue.processed"
	PrecomputeScheduled Name = "precompute.scheduled"
	PrecomputeCompleted Name = "precompute.completed"
	PerformanceAlert    Name = "performance.alert"
)

// Event is one occurrence of a Name, with a freeform payload.
type Event struct {
	Name Name
	Data map[string]any
}

// Handler receives emitted events. Handlers run synchronously on the
// emitting goroutine's call stack and must not block.
type Handler func(Event)

// Bus is a typed fan-out channel: many handlers may subscribe per Name, and
// Emit delivers to all of them. A Bus is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
}

// New returns an empty event bus.
func New() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// On registers a handler for the given event name.
func (b *Bus) On(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit delivers ev to every handler registered for ev.Name. A nil Bus is a
// valid no-op emitter, matching the teacher's nil-logger idiom.
func (b *Bus) Emit(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := b.handlers[ev.Name]
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

// EmitKV is a convenience wrapper building the Data map from alternating
// key/value pairs.
func (b *Bus) EmitKV(name Name, kv ...any) {
	data := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		data[key] = kv[i+1]
	}
	b.Emit(Event{Name: name, Data: data})
}
