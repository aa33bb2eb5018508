package hub

import "github.com/goliathdrakken/gatebot/event"

// HandlerFunc handles one dispatched event.
type HandlerFunc func(ev event.Event)

// Router maps event kinds to an ordered list of handler functions. A
// manager builds its routing table once in its constructor and embeds
// the router to satisfy Listener; there is no runtime discovery of
// handler methods.
type Router struct {
	handlers map[event.Kind][]HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[event.Kind][]HandlerFunc)}
}

// Bind appends a handler for the given kind.
func (r *Router) Bind(kind event.Kind, fn HandlerFunc) {
	r.handlers[kind] = append(r.handlers[kind], fn)
}

// HandleEvent implements Listener, routing to the bound handlers in
// bind order. Kinds with no handlers are ignored.
func (r *Router) HandleEvent(ev event.Event) {
	for _, fn := range r.handlers[ev.EventKind()] {
		fn(ev)
	}
}
