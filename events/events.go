// Package events is the asynchronous notification bus the editor reports
// through: graph rebuilds, moves, clicks, saves and failures.
//
// Delivery is ordered. One goroutine drains the queue and calls the handlers
// of each event in subscription order, type-specific handlers before
// wildcard ones, so a listener sees "node_moved" before the "state_saved"
// that follows it.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("event handler panicked")
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// DefaultBufferSize is the queue length used without WithBufferSize.
const DefaultBufferSize = 100

// SyncTimeout bounds a PublishSync call.
const SyncTimeout = 5 * time.Second

// Event is one editor notification.
type Event struct {
	Type   string                 // e.g. "node_moved", "save_failed"
	NodeID uint64                 // node concerned, 0 when none
	Time   time.Time              // set by Publish when zero
	Data   map[string]interface{} // additional event data
}

func (e Event) String() string {
	if e.NodeID == 0 {
		return e.Type
	}
	return fmt.Sprintf("%s(node %d)", e.Type, e.NodeID)
}

// EventHandler receives events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// EventBus queues events and delivers them on its own goroutine.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	closed   bool
	onError  func(event Event, err error)
	logger   *slog.Logger

	eventCh chan Event
	done    chan struct{}
}

// EventBusOption configures an EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets how many events may wait for delivery.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		if size > 0 {
			eb.eventCh = make(chan Event, size)
		}
	}
}

// WithErrorHandler replaces the default logging of handler errors.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) { eb.onError = handler }
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) EventBusOption {
	return func(eb *EventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// NewEventBus creates a bus and starts its delivery goroutine.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		handlers: make(map[string][]EventHandler),
		eventCh:  make(chan Event, DefaultBufferSize),
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, option := range options {
		option(eb)
	}
	if eb.onError == nil {
		eb.onError = eb.logError
	}
	go eb.deliver()
	return eb
}

// Subscribe adds a handler for an event type, or for every type with Wildcard.
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeFunc subscribes a function and returns the handler for Unsubscribe.
func (eb *EventBus) SubscribeFunc(eventType string, fn func(ctx context.Context, event Event) error) EventHandler {
	h := EventHandlerFunc(fn)
	eb.Subscribe(eventType, h)
	return h
}

// sameHandler compares handlers by dynamic type and address, since
// EventHandlerFunc values are not comparable with ==.
func sameHandler(a, b EventHandler) bool {
	return fmt.Sprintf("%T%p", a, a) == fmt.Sprintf("%T%p", b, b)
}

// Unsubscribe removes the first matching handler and reports whether one was found.
func (eb *EventBus) Unsubscribe(eventType string, handler EventHandler) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	list := eb.handlers[eventType]
	for i := range list {
		if !sameHandler(list[i], handler) {
			continue
		}
		if len(list) == 1 {
			delete(eb.handlers, eventType)
		} else {
			eb.handlers[eventType] = append(list[:i:i], list[i+1:]...)
		}
		return true
	}
	return false
}

// HasSubscribers reports whether an event of this type would reach anyone.
func (eb *EventBus) HasSubscribers(eventType string) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])+len(eb.handlers[Wildcard]) > 0
}

// handlersFor lists the handlers of a type followed by the wildcard handlers.
func (eb *EventBus) handlersFor(eventType string) []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	typed, wild := eb.handlers[eventType], eb.handlers[Wildcard]
	if eventType == Wildcard {
		wild = nil
	}
	out := make([]EventHandler, 0, len(typed)+len(wild))
	return append(append(out, typed...), wild...)
}

// Publish queues an event. It never blocks; a full queue yields ErrChannelFull.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The read lock keeps Stop from closing the channel mid-send.
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}
	if len(eb.handlers[event.Type])+len(eb.handlers[Wildcard]) == 0 {
		return ErrNoHandler
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	select {
	case eb.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync calls every handler in order on the caller's goroutine and
// returns their errors. The whole call is bounded by SyncTimeout.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) []error {
	eb.mu.RLock()
	closed := eb.closed
	eb.mu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	handlers := eb.handlersFor(event.Type)
	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, SyncTimeout)
	defer cancel()
	return eb.dispatch(ctx, handlers, event)
}

// Stop drops queued events, then waits for the event being delivered.
// Calling it again is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if !eb.closed {
		eb.closed = true
		for len(eb.eventCh) > 0 {
			<-eb.eventCh
		}
		close(eb.eventCh)
	}
	eb.mu.Unlock()
	<-eb.done
}

func (eb *EventBus) deliver() {
	defer close(eb.done)
	for event := range eb.eventCh {
		for _, err := range eb.dispatch(context.Background(), eb.handlersFor(event.Type), event) {
			eb.onError(event, err)
		}
	}
}

// dispatch runs handlers one after another, stopping early when ctx ends.
func (eb *EventBus) dispatch(ctx context.Context, handlers []EventHandler, event Event) []error {
	var errs []error
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return append(errs, err)
		}
		if err := call(ctx, h, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func call(ctx context.Context, h EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return h.Handle(ctx, event)
}

func (eb *EventBus) logError(event Event, err error) {
	eb.logger.Error("event handler failed",
		slog.String("event", event.Type),
		slog.Uint64("node", event.NodeID),
		slog.Any("error", err))
}
