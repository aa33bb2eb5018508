// Package gatenet implements the line protocol that connects satellite
// processes (device daemons, dashboards, test clients) to the core.
//
// The wire format is one JSON event envelope per frame, frames
// separated by a blank line ("\n\n"). The Server accepts TCP peers,
// decodes inbound frames onto the event hub, and fans outbound events
// back to every connected peer via Broadcast. The Client maintains a
// single connection with a fixed reconnect backoff schedule and offers
// typed convenience senders for the common device events.
package gatenet
