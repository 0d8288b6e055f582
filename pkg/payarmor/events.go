package payarmor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a retry lifecycle event.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventRetrying  EventType = "retrying"
	EventSucceeded EventType = "succeeded"
	EventExhausted EventType = "exhausted"
	EventCancelled EventType = "cancelled"
)

// Event is a retry lifecycle notification for external delivery (push,
// webhook, polling endpoint).
type Event struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	TransactionID string      `json:"transaction_id"`
	UserID        string      `json:"user_id,omitempty"`
	Status        RetryStatus `json:"status"`
	Message       string      `json:"message"`
	AttemptCount  int         `json:"attempt_count"`
	NextRetryAt   *time.Time  `json:"next_retry_at,omitempty"`
	At            time.Time   `json:"at"`
}

// Handler consumes one event. Handlers run on their own goroutine; a slow or
// panicking handler cannot stall emission or corrupt queue state.
type Handler func(Event)

type subscription struct {
	types   map[EventType]bool // nil means all events
	handler Handler
}

// Emitter is an in-process publish/subscribe channel for lifecycle events.
// Emission is synchronous-fire, asynchronous-consume: Emit returns without
// awaiting subscriber completion.
type Emitter struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	wg     sync.WaitGroup
	logger Logger
}

// NewEmitter creates an emitter. A nil logger defaults to NoopLogger.
func NewEmitter(logger Logger) *Emitter {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Emitter{
		subs:   make(map[int]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for the given event types (all types when
// none are given) and returns an unsubscribe function.
func (em *Emitter) Subscribe(h Handler, types ...EventType) func() {
	sub := &subscription{handler: h}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	em.mu.Lock()
	em.nextID++
	id := em.nextID
	em.subs[id] = sub
	em.mu.Unlock()

	return func() {
		em.mu.Lock()
		delete(em.subs, id)
		em.mu.Unlock()
	}
}

// Emit delivers the event to current subscribers, one goroutine per
// subscriber. Missing ID and timestamp fields are filled in.
func (em *Emitter) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	em.mu.Lock()
	targets := make([]*subscription, 0, len(em.subs))
	for _, sub := range em.subs {
		if sub.types == nil || sub.types[e.Type] {
			targets = append(targets, sub)
		}
	}
	em.mu.Unlock()

	for _, sub := range targets {
		em.wg.Add(1)
		go em.deliver(sub, e)
	}
}

func (em *Emitter) deliver(sub *subscription, e Event) {
	defer em.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error("event subscriber panicked",
				Field{Key: "event", Value: string(e.Type)},
				TxnField(e.TransactionID),
				Field{Key: "panic", Value: r})
		}
	}()
	sub.handler(e)
}

// Close waits for all in-flight deliveries to finish.
func (em *Emitter) Close() {
	em.wg.Wait()
}
