package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"go.uber.org/zap"
)

// ErrClosed is returned when dispatching on a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher fans session notifications out to subscribers
type Dispatcher interface {
	// Subscribe registers handler under name for each of the given types.
	// An empty name is replaced by a generated one.
	Subscribe(name string, handler Handler, types ...event.Type)

	// Dispatch runs the subscribers of evt.Type in registration order and
	// stops at the first error
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs every subscriber in its own goroutine
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Close waits for running async subscribers and rejects further dispatches
	Close() error
}

type subscriber struct {
	name    string
	handler Handler
}

type eventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[event.Type][]subscriber
	generated   int
	logger      *zap.Logger

	inflight sync.WaitGroup
	closed   atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger *zap.Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher without subscribers
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		subscribers: make(map[event.Type][]subscriber),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(name string, handler Handler, types ...event.Type) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("subscriber-%d", d.generated)
		d.generated++
	}
	for _, t := range types {
		d.subscribers[t] = append(d.subscribers[t], subscriber{name: name, handler: handler})
		d.logger.Debug("Subscriber registered",
			zap.String("event_type", t.String()),
			zap.String("subscriber", name))
	}
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	for _, s := range d.subscribersOf(evt.Type) {
		if err := s.deliver(ctx, evt); err != nil {
			d.logFailure("Subscriber failed", evt, s, err)
			return fmt.Errorf("subscriber %s: %w", s.name, err)
		}
	}
	return nil
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		d.logger.Warn("Dropping event, dispatcher is closed",
			zap.String("event_type", evt.Type.String()),
			zap.String("event_id", evt.ID))
		return
	}

	for _, s := range d.subscribersOf(evt.Type) {
		d.inflight.Add(1)
		go func(s subscriber) {
			defer d.inflight.Done()
			if err := s.deliver(ctx, evt); err != nil {
				d.logFailure("Async subscriber failed", evt, s, err)
			}
		}(s)
	}
}

func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	d.inflight.Wait()
	d.logger.Info("Dispatcher closed")
	return nil
}

func (d *eventDispatcher) subscribersOf(t event.Type) []subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]subscriber(nil), d.subscribers[t]...)
}

func (d *eventDispatcher) logFailure(msg string, evt *event.Event, s subscriber, err error) {
	d.logger.Error(msg,
		zap.String("event_type", evt.Type.String()),
		zap.String("event_id", evt.ID),
		zap.String("session_id", evt.SessionID),
		zap.String("subscriber", s.name),
		zap.Error(err))
}

// deliver turns a panicking handler into an error
func (s subscriber) deliver(ctx context.Context, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, evt)
}
