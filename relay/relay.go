package relay

import (
	"log/slog"

	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/hub"
)

// Sink receives events selected for external delivery.
type Sink interface {
	Name() string
	Deliver(ev event.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc struct {
	SinkName string
	Fn       func(ev event.Event) error
}

// Name implements Sink.
func (s SinkFunc) Name() string { return s.SinkName }

// Deliver implements Sink.
func (s SinkFunc) Deliver(ev event.Event) error { return s.Fn(ev) }

// Broadcaster is satisfied by the gatenet server.
type Broadcaster interface {
	Broadcast(ev event.Event)
}

// BroadcastSink adapts a Broadcaster into a Sink.
func BroadcastSink(name string, b Broadcaster) Sink {
	return SinkFunc{
		SinkName: name,
		Fn: func(ev event.Event) error {
			b.Broadcast(ev)
			return nil
		},
	}
}

// Deps holds runtime dependencies for the relay.
type Deps struct {
	Logger *slog.Logger
	Sinks  []Sink

	// Kinds overrides the default forwarded kinds when non-empty.
	Kinds []event.Kind
}

// Relay fans selected hub events out to its sinks.
type Relay struct {
	*hub.Router

	logger *slog.Logger
	sinks  []Sink
}

// defaultKinds are the events remote consumers care about.
var defaultKinds = []event.Kind{
	event.KindLatchUpdate,
	event.KindEntryCreated,
	event.KindThermo,
}

// New creates a relay and binds its event handlers.
func New(deps Deps) *Relay {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "relay")
	}
	kinds := deps.Kinds
	if len(kinds) == 0 {
		kinds = defaultKinds
	}

	r := &Relay{
		Router: hub.NewRouter(),
		logger: logger,
		sinks:  deps.Sinks,
	}
	for _, kind := range kinds {
		r.Bind(kind, r.forward)
	}
	return r
}

func (r *Relay) forward(ev event.Event) {
	for _, sink := range r.sinks {
		if err := sink.Deliver(ev); err != nil {
			r.logger.Warn("Sink delivery failed",
				"sink", sink.Name(), "kind", ev.EventKind(), "error", err)
		}
	}
}
