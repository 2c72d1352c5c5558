// Package events provides an in-process publish/subscribe bus used to
// decouple the risk engine from its observers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the risk service
const (
	EventLoginAssessed         = "risk.login.assessed"
	EventLoginBlocked          = "risk.login.blocked"
	EventModelRetrainRequested = "risk.model.retrain_requested"
	EventModelTrained          = "risk.model.trained"
	EventRulesUpdated          = "risk.rules.updated"
	EventBaselineUpdated       = "risk.baseline.updated"
)

// Event represents a domain event
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Subject   string                 `json:"subject,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// WithSubject sets the user or resource the event is about
func (e Event) WithSubject(subject string) Event {
	e.Subject = subject
	return e
}

// EventHandler processes events
type EventHandler func(ctx context.Context, event Event) error

// Subscription represents an event subscription
type Subscription struct {
	ID        string
	EventType string
	Handler   EventHandler
}

// Bus is the event bus interface
type Bus interface {
	// Publish delivers an event to all subscribers before returning
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers an event on a background goroutine
	PublishAsync(ctx context.Context, event Event)

	// Subscribe subscribes to one event type, or "*" for all of them
	Subscribe(eventType string, handler EventHandler) *Subscription

	// Unsubscribe removes a subscription
	Unsubscribe(sub *Subscription)

	// Close waits for in-flight async deliveries and rejects new events
	Close() error
}

// MemoryBus is an in-memory event bus implementation
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*Subscription
	closed        bool
	wg            sync.WaitGroup
	errorHandler  func(Event, error)
}

// NewMemoryBus creates a new in-memory event bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string][]*Subscription),
		errorHandler:  func(Event, error) {},
	}
}

// SetErrorHandler sets the callback for failed async deliveries
func (b *MemoryBus) SetErrorHandler(handler func(Event, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandler = handler
}

// Publish publishes an event synchronously
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}
	return b.deliver(ctx, event)
}

func (b *MemoryBus) deliver(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]*Subscription, 0, len(b.subscriptions[event.Type])+len(b.subscriptions["*"]))
	handlers = append(handlers, b.subscriptions[event.Type]...)
	handlers = append(handlers, b.subscriptions["*"]...)
	b.mu.RUnlock()

	var lastErr error
	for _, sub := range handlers {
		if err := sub.Handler(ctx, event); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// PublishAsync publishes an event asynchronously. Events published after
// Close are reported to the error handler and dropped.
func (b *MemoryBus) PublishAsync(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		handler := b.errorHandler
		b.mu.RUnlock()
		handler(event, fmt.Errorf("event bus is closed"))
		return
	}
	b.wg.Add(1)
	b.mu.RUnlock()

	go func() {
		defer b.wg.Done()
		if err := b.deliver(context.WithoutCancel(ctx), event); err != nil {
			b.mu.RLock()
			handler := b.errorHandler
			b.mu.RUnlock()
			handler(event, err)
		}
	}()
}

// Subscribe subscribes to events of a specific type
func (b *MemoryBus) Subscribe(eventType string, handler EventHandler) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		EventType: eventType,
		Handler:   handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], sub)

	return sub
}

// Unsubscribe removes a subscription
func (b *MemoryBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.EventType]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscriptions[sub.EventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Close shuts down the event bus
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	// Wait for async handlers to complete
	b.wg.Wait()
	return nil
}
