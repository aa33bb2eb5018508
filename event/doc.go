// Package event defines the typed events exchanged inside the gatebot
// core and over the gatenet wire protocol.
//
// Every event kind is a concrete struct with a fixed field set. On the
// wire an event serializes to a JSON envelope:
//
//	{"event": "<KindName>", "data": {...}}
//
// followed by the two-byte terminator "\n\n" (the terminator is owned by
// the transport, not the codec). Decoding an unknown kind fails with
// errors.ErrUnknownEvent; the kind registry is built explicitly at
// package init, never discovered by reflection.
package event
