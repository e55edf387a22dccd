// Package eventlog provides the append-only, per-run progress log with
// replay and live subscription. Subscribing returns the full history and
// registers the callback under the same lock, so an event is delivered
// exactly once: either in the replay slice or as a live push.
package eventlog

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/domain"
)

// Store persists appended events. Optional; a nil store keeps the log
// purely in memory.
type Store interface {
	AppendEvent(e domain.Event) error
}

// Subscriber receives live events for one run
type Subscriber func(e domain.Event)

// Log is the in-process event log. Events for a run are observed in
// append order; they are never mutated or removed.
type Log struct {
	store  Store
	logger *log.Logger

	mu      sync.Mutex
	events  map[string][]domain.Event
	subs    map[string]map[int]Subscriber
	nextSub int
}

// New creates an event log. store and logger may be nil.
func New(store Store, logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{
		store:  store,
		logger: logger,
		events: make(map[string][]domain.Event),
		subs:   make(map[string]map[int]Subscriber),
	}
}

// Append records an event and pushes it to the run's subscribers. A
// panicking subscriber is isolated; it never affects the publisher or
// other subscribers.
func (l *Log) Append(eventType, runID string, payload map[string]any) domain.Event {
	e := domain.Event{
		Type:    eventType,
		RunID:   runID,
		Payload: payload,
		At:      time.Now(),
	}

	l.mu.Lock()
	l.events[runID] = append(l.events[runID], e)
	var targets []Subscriber
	for _, sub := range l.subs[runID] {
		targets = append(targets, sub)
	}
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AppendEvent(e); err != nil {
			l.logger.Warn("persisting event failed", "run", runID, "type", eventType, "error", err)
		}
	}

	for _, sub := range targets {
		l.deliver(sub, e)
	}
	return e
}

func (l *Log) deliver(sub Subscriber, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event subscriber panicked", "run", e.RunID, "panic", r)
		}
	}()
	sub(e)
}

// List returns a snapshot of the full history for a run. The snapshot is
// taken in O(1) appends-blocked time; iteration happens on the copy.
func (l *Log) List(runID string) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.events[runID]
	out := make([]domain.Event, len(events))
	copy(out, events)
	return out
}

// Has reports whether any events exist for the run
func (l *Log) Has(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events[runID]) > 0
}

// Subscribe returns the history so far and registers fn for everything
// appended afterwards. Both happen under one lock, so no event falls in
// between. The returned cancel is idempotent and safe after run end.
func (l *Log) Subscribe(runID string, fn Subscriber) (replay []domain.Event, cancel func()) {
	l.mu.Lock()
	events := l.events[runID]
	replay = make([]domain.Event, len(events))
	copy(replay, events)

	if l.subs[runID] == nil {
		l.subs[runID] = make(map[int]Subscriber)
	}
	id := l.nextSub
	l.nextSub++
	l.subs[runID][id] = fn
	l.mu.Unlock()

	return replay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if subs, ok := l.subs[runID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(l.subs, runID)
			}
		}
	}
}

// Preload seeds the in-memory history for a run, used when recovering
// persisted events after a restart. It must be called before any
// subscriber attaches.
func (l *Log) Preload(runID string, events []domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[runID] = append([]domain.Event(nil), events...)
}
