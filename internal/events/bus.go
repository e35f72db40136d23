// Package events provides the in-process publish/subscribe bus that carries
// device lifecycle signals between the transport layer and its consumers,
// plus the heartbeat monitor that detects silent devices.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/models"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

type subscriberEntry struct {
	id  uint64
	sub Subscriber
}

// Bus fans DeviceEvents out to subscribers. Emit delivers inline from the
// caller's goroutine; EmitNowait enqueues onto a channel drained by the
// bus's own goroutine, and is safe to call from any connection handler.
type Bus struct {
	logger zerolog.Logger

	mu          sync.Mutex
	subscribers map[string][]subscriberEntry
	nextID      uint64

	queue  chan models.DeviceEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus creates a bus whose cross-goroutine emission queue holds up to
// queueSize pending events.
func NewBus(queueSize int, logger zerolog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[string][]subscriberEntry),
		queue:       make(chan models.DeviceEvent, queueSize),
	}
}

// Start launches the dispatch goroutine that drains EmitNowait's queue.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		b.logger.Warn().Msg("Event bus is already running")
		return errors.New("event bus is already running")
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	ctx := b.ctx

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)
	}()

	b.logger.Info().Msg("Event bus started")
	return nil
}

// Stop halts the dispatch goroutine. Events still queued are dispatched
// before the goroutine exits.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if b.ctx == nil {
		b.mu.Unlock()
		b.logger.Warn().Msg("Event bus is not running")
		return errors.New("event bus is not running")
	}
	cancel := b.cancel
	b.mu.Unlock()

	// The dispatch goroutine takes the subscriber lock, so it must not be
	// held while waiting for the drain to finish.
	cancel()
	b.wg.Wait()

	b.mu.Lock()
	b.ctx = nil
	b.cancel = nil
	b.mu.Unlock()

	b.logger.Info().Msg("Event bus stopped")
	return nil
}

// Subscribe registers sub for eventType (or every type via Wildcard) and
// returns the matching unsubscribe function.
func (b *Bus) Subscribe(eventType string, sub Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, sub: sub})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subscribers[eventType]
		for i, e := range entries {
			if e.id == id {
				b.subscribers[eventType] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers event to every matching subscriber from the caller's
// goroutine.
func (b *Bus) Emit(event models.DeviceEvent) {
	b.dispatch(event)
}

// EmitNowait enqueues event for delivery by the bus goroutine without
// blocking the caller beyond queue back-pressure. Safe for concurrent use
// from any goroutine. Events emitted after Stop are dropped with a log line.
func (b *Bus) EmitNowait(event models.DeviceEvent) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		b.logger.Warn().Str("type", event.Type).Msg("Event dropped, bus not running")
		return
	}

	select {
	case b.queue <- event:
	case <-ctx.Done():
		b.logger.Warn().Str("type", event.Type).Msg("Event dropped, bus stopping")
	}
}

// run drains the queue until cancellation, then flushes whatever is left.
func (b *Bus) run(ctx context.Context) {
	for {
		select {
		case event := <-b.queue:
			b.dispatch(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-b.queue:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

// dispatch snapshots the matching subscriber lists under the lock and
// delivers outside it, so a subscriber cannot deadlock against
// subscribe/unsubscribe.
func (b *Bus) dispatch(event models.DeviceEvent) {
	b.mu.Lock()
	entries := make([]subscriberEntry, 0, len(b.subscribers[event.Type])+len(b.subscribers[Wildcard]))
	entries = append(entries, b.subscribers[event.Type]...)
	entries = append(entries, b.subscribers[Wildcard]...)
	b.mu.Unlock()

	for _, e := range entries {
		b.safeDeliver(e.sub, event)
	}
}

// safeDeliver isolates one subscriber's failure from the rest of the fanout.
func (b *Bus) safeDeliver(sub Subscriber, event models.DeviceEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("subscriber", sub.Name()).
				Str("type", event.Type).
				Any("panic", r).
				Msg("Event subscriber panicked")
		}
	}()
	sub.Deliver(event)
}
