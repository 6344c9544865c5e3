// Package audit relays authentication audit events to pluggable sinks.
//
// # Components
//
//   - [Sink]: event consumer (no-op, channel, JSON lines, zerolog, fan-out).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: one record with id, timestamp, type, user, identifier, version, IP and reason.
//
// This package does not decide which events to emit; the Engine does.
package audit
