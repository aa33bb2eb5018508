// Package hub implements the in-process publish/subscribe event bus at
// the center of the gatebot core.
//
// Publish is a non-blocking enqueue onto a FIFO queue. DispatchNext
// waits (up to a timeout) for the next queued event and delivers it
// synchronously to a snapshot of the current subscriber set, exactly
// once per subscriber, before the next event is dispatched. A subscriber
// that panics during delivery is contained and logged; the hub is
// fire-and-forget, retry belongs to subscribers.
//
// Subscribe and Unsubscribe are safe to call concurrently with dispatch:
// the dispatcher snapshots the listener set per event, so membership
// changes never race an in-flight fan-out.
//
// Router lets a manager bind handler functions per event kind at
// construction time and satisfy Listener with explicit routing.
package hub
