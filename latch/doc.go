// Package latch implements the per-gate latch session state machine.
//
// A Latch represents one authorized open-gate session from opening to
// completion. The Manager owns the gate-name keyed latch map — the map
// key is what enforces "at most one live latch per gate" — and is the
// only component that mutates latch state, always under its lock.
//
// Latches open explicitly (Open, a LatchRequest) or implicitly (meter
// activity on a latch-less gate). They close explicitly (Close) or via
// the heartbeat-driven idle sweep once inactivity strictly exceeds the
// latch's max-idle bound.
package latch
