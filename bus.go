package agentworld

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler consumes one event from a bus channel. Handlers may block (they
// run on the channel's dispatch goroutine, not the emitter's); a returned
// error is logged and never propagated to the emitter or to peer handlers.
type Handler func(event any) error

// busQueueDepth is the per-channel event queue size. Emit never blocks:
// events beyond a saturated queue are dropped with a warning, so a
// handler publishing into its own channel can never deadlock dispatch.
const busQueueDepth = 1024

// EventBus is a per-world publish/subscribe emitter with named channels.
// Each channel dispatches on its own goroutine, so delivery is FIFO within
// a (world, channel) pair and there is no ordering guarantee across
// channels. Handler failures (errors and panics) are isolated.
type EventBus struct {
	mu       sync.RWMutex
	channels map[EventChannel]*busChannel
	logger   *slog.Logger
	closed   bool
}

type busChannel struct {
	mu       sync.RWMutex
	handlers []*busSubscription
	queue    chan any
	done     chan struct{}
}

type busSubscription struct {
	handler Handler
	removed atomic.Bool
}

// NewEventBus creates a bus. logger may be nil (discard).
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = nopLogger
	}
	return &EventBus{
		channels: make(map[EventChannel]*busChannel),
		logger:   logger,
	}
}

// channel returns the dispatch state for name, starting its goroutine on
// first use.
func (b *EventBus) channel(name EventChannel) *busChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if c, ok := b.channels[name]; ok {
		return c
	}
	c := &busChannel{
		queue: make(chan any, busQueueDepth),
		done:  make(chan struct{}),
	}
	b.channels[name] = c
	go b.dispatch(name, c)
	return c
}

// dispatch drains a channel's queue, invoking every live handler in
// subscription order. Runs until the queue is closed.
func (b *EventBus) dispatch(name EventChannel, c *busChannel) {
	defer close(c.done)
	for event := range c.queue {
		c.mu.RLock()
		subs := make([]*busSubscription, len(c.handlers))
		copy(subs, c.handlers)
		c.mu.RUnlock()

		for _, s := range subs {
			if s.removed.Load() {
				continue
			}
			b.safeInvoke(name, s.handler, event)
		}
	}
}

// safeInvoke runs one handler, capturing both returned errors and panics.
func (b *EventBus) safeInvoke(name EventChannel, h Handler, event any) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("event handler panic", "channel", string(name), "panic", fmt.Sprintf("%v", p))
		}
	}()
	if err := h(event); err != nil {
		b.logger.Error("event handler failed", "channel", string(name), "error", err)
	}
}

// Emit queues event for delivery to every handler subscribed to name.
// Delivery order matches emit order within the channel. Emit on a closed
// bus is a no-op. A saturated queue drops the event rather than blocking
// the emitter.
func (b *EventBus) Emit(name EventChannel, event any) {
	c := b.channel(name)
	if c == nil {
		return
	}
	select {
	case c.queue <- event:
	default:
		b.logger.Warn("event queue saturated; dropping event", "channel", string(name))
	}
}

// On subscribes handler to name and returns an unsubscribe function.
// Unsubscribe is idempotent. A handler never runs again after its
// unsubscribe function returns has been observed by the dispatch loop.
func (b *EventBus) On(name EventChannel, handler Handler) func() {
	c := b.channel(name)
	if c == nil {
		return func() {}
	}
	sub := &busSubscription{handler: handler}
	c.mu.Lock()
	c.handlers = append(c.handlers, sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.removed.Store(true)
			c.mu.Lock()
			for i, s := range c.handlers {
				if s == sub {
					c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
					break
				}
			}
			c.mu.Unlock()
		})
	}
}

// Close stops all dispatch goroutines after draining queued events.
// Emit and On become no-ops afterwards.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	channels := make([]*busChannel, 0, len(b.channels))
	for _, c := range b.channels {
		channels = append(channels, c)
	}
	b.mu.Unlock()

	for _, c := range channels {
		close(c.queue)
		<-c.done
	}
}
