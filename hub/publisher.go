package hub

import "github.com/goliathdrakken/gatebot/event"

// Publisher is the event-emitting half of the hub, the only part most
// managers need.
type Publisher interface {
	Publish(ev event.Event)
}

var _ Publisher = (*Hub)(nil)
