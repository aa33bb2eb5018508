package hub

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/metric"
)

// DefaultQueueSize bounds the publish queue. The original design used an
// unbounded queue; a bound keeps Publish non-blocking while making
// overflow observable instead of invisible memory growth.
const DefaultQueueSize = 4096

// Listener receives every dispatched event.
type Listener interface {
	HandleEvent(ev event.Event)
}

// Deps holds runtime dependencies for the hub.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metric.Registry
	QueueSize int
}

// Hub is the central event sink and fan-out point.
type Hub struct {
	logger  *slog.Logger
	metrics *metric.CoreMetrics

	mu        sync.RWMutex
	listeners map[Listener]struct{}

	queue chan event.Event
}

// New creates a hub.
func New(deps Deps) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "eventhub")
	}
	size := deps.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Hub{
		logger:    logger,
		metrics:   deps.Metrics.Core(),
		listeners: make(map[Listener]struct{}),
		queue:     make(chan event.Event, size),
	}
}

// Subscribe attaches a listener. Attaching an already-subscribed
// listener is a no-op.
func (h *Hub) Subscribe(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[l] = struct{}{}
}

// Unsubscribe detaches a listener by identity. Unknown listeners are a
// no-op.
func (h *Hub) Unsubscribe(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, l)
}

// Publish enqueues an event for dispatch. Never blocks: if the queue is
// full the event is dropped and logged.
func (h *Hub) Publish(ev event.Event) {
	select {
	case h.queue <- ev:
		if h.metrics != nil {
			h.metrics.EventsPublished.WithLabelValues(string(ev.EventKind())).Inc()
		}
	default:
		h.logger.Error("Event queue full, dropping event", "kind", ev.EventKind())
		if h.metrics != nil {
			h.metrics.EventsDropped.Inc()
		}
	}
}

// DispatchNext waits up to timeout for a queued event and delivers it to
// every current subscriber. Returns true if an event was dispatched.
func (h *Hub) DispatchNext(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-h.queue:
		h.dispatch(ev)
		return true
	case <-timer.C:
		return false
	}
}

// Run dispatches events until ctx is cancelled. Intended to be the body
// of the dedicated dispatcher goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case ev := <-h.queue:
			h.dispatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) dispatch(ev event.Event) {
	// Snapshot so Subscribe/Unsubscribe during fan-out can't race the
	// iteration. Listeners added mid-dispatch see the next event.
	h.mu.RLock()
	snapshot := make([]Listener, 0, len(h.listeners))
	for l := range h.listeners {
		snapshot = append(snapshot, l)
	}
	h.mu.RUnlock()

	for _, l := range snapshot {
		h.deliver(l, ev)
	}

	if h.metrics != nil {
		h.metrics.EventsDispatched.WithLabelValues(string(ev.EventKind())).Inc()
	}
}

// deliver invokes one listener, containing panics so a broken subscriber
// cannot take down dispatch for the rest.
func (h *Hub) deliver(l Listener, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			h.logger.Error("Subscriber panicked during dispatch",
				"kind", ev.EventKind(),
				"panic", r,
				"stack", string(buf[:n]))
			if h.metrics != nil {
				h.metrics.DispatchPanics.Inc()
			}
		}
	}()
	l.HandleEvent(ev)
}
