// Package relay forwards core events to external consumers.
//
// The Relay subscribes to the hub for the externally interesting kinds
// (latch updates, created entries) and hands each event to a set of
// sinks: the gatenet broadcast, an optional NATS mirror, an optional
// WebSocket fanout. Sinks are best-effort; a failing sink is logged and
// never blocks the hub or the other sinks.
package relay
