// Package eventbus routes controller and fade-engine events to observers
// (HTTP pollers, the MQTT bridge, scene scripts) through a bounded worker
// pool, so a slow observer never stalls a transition step.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType labels what happened.
type EventType string

const (
	EventTypeDevices       EventType = "devices"        // discovery finished, Data["devices"]
	EventTypeDeviceSelect  EventType = "device_select"  // selection changed, Data["ip"]
	EventTypeState         EventType = "state"          // observed bulb state, Data["ip"], Data["state"]
	EventTypeFadeStep      EventType = "fade_step"      // Data["plan_id"], Data["step"], Data["values"]
	EventTypeFadeCompleted EventType = "fade_completed" // Data["plan_id"]
	EventTypeFadeCancelled EventType = "fade_cancelled" // Data["plan_id"]
)

// Default worker pool sizing.
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is one occurrence delivered to subscribers.
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler consumes events. Handlers run on pool workers and must be safe
// to call concurrently with each other.
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	queue chan work
	wg    sync.WaitGroup

	// Closing is signalled via channel so publishers can observe it in a
	// select without racing the shutdown path.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a bus with default pool sizing.
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a bus with an explicit worker count and queue size.
// A single worker gives strictly ordered delivery, which tests rely on.
func NewWithConfig(workers, queueSize int) *Bus {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan work, queueSize),
		closing:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	log.Debug().Int("workers", workers).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.closing:
			return
		case w := <-b.queue:
			b.dispatch(w)
		}
	}
}

func (b *Bus) dispatch(w work) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event_type", string(w.event.Type)).Msg("Event handler panicked")
		}
	}()
	w.handler(w.event)
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues the event for every subscribed handler. Non-blocking:
// when the queue is full or the bus is closing the event is dropped with a
// warning, never stalling the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case b.queue <- work{event: event, handler: handler}:
		default:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops the pool, waiting at most until ctx is done. Events still
// queued at that point are dropped.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
