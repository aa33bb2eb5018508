// Package auth coordinates token presence signals into latch sessions.
//
// The Manager tracks at most one TokenRecord per gate, debounces
// repeated presence of the same credential, resolves credentials
// through the backend, and drives the latch manager: token added opens
// (or renews) a latch with a per-auth-device idle bound, token removed
// closes the latch immediately only when the device is captive.
//
// All add/remove processing for an invocation runs in a single critical
// section, so concurrent add/remove races cannot corrupt the tracked
// record map.
package auth
