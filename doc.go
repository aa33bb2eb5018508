// Package gatebot is an event-driven coordination engine for controlled
// access gates.
//
// The engine is a single process built around a bounded in-process event
// hub. Remote agents (meter readers, auth scanners, board daemons) speak
// a newline-delimited JSON protocol to the gatenet server; everything
// they report becomes an event on the hub, and every state change the
// engine makes is published back through it.
//
// Package layout:
//
//   - event: the event vocabulary and its wire codec
//   - hub: bounded publish/dispatch queue and kind-based routing
//   - gate: gate registry and cumulative meters
//   - latch: the per-gate access session state machine
//   - auth: token presence tracking and latch authorization
//   - entry: persistence of completed sessions
//   - backend, backend/sqlite: credential and entry storage
//   - gatenet: the TCP line protocol server and client
//   - gateboard: the GBSP serial link to board firmware
//   - relay: fanout of selected events to NATS and WebSocket consumers
//   - service: assembly, lifecycle, and the heartbeat
//
// The cmd/gatecore binary runs the engine; cmd/gateboardd bridges a
// serial gateboard to a running core.
package gatebot
