package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a named handler for an event type, or AllEvents
	Subscribe(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs every matching handler synchronously, in registration order,
	// and joins their errors. A failing handler does not stop the others.
	Dispatch(ctx context.Context, evt *event.Event) error

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close rejects new dispatches and waits for in-flight ones
	Close() error
}

// Logger is the slice of zap's SugaredLogger the dispatcher needs
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	// life guards closed so inflight.Add never races Close's Wait
	life     sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("handler-%d", len(d.handlers[eventType]))
	}
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})

	if d.logger != nil {
		d.logger.Infow("Handler registered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[eventType] = filtered

	if d.logger != nil {
		d.logger.Infow("Handler unregistered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

func (d *eventDispatcher) matching(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specific := d.handlers[eventType]
	wildcard := d.handlers[AllEvents]
	out := make([]HandlerInfo, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	return append(out, wildcard...)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}
	d.life.Lock()
	if d.closed {
		d.life.Unlock()
		return fmt.Errorf("dispatcher is closed")
	}
	d.inflight.Add(1)
	d.life.Unlock()
	defer d.inflight.Done()

	handlers := d.matching(evt.Type)

	var errs []error
	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Errorw("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("handler %s failed: %w", info.Name, err))
		}
	}

	return errors.Join(errs...)
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		// Handler funcs are not exposed
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}

	return result
}

func (d *eventDispatcher) Close() error {
	d.life.Lock()
	if d.closed {
		d.life.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.life.Unlock()

	if d.logger != nil {
		d.logger.Infow("Closing dispatcher, waiting for in-flight dispatches")
	}

	d.inflight.Wait()
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Errorw("Handler panic recovered",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
	}()

	return info.Handler(ctx, evt)
}
