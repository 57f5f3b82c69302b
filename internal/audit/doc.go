// Package audit delivers security events to a [Sink] off the request path.
//
// The [Dispatcher] buffers events and forwards them from a single goroutine. When
// DropIfFull is set, a full buffer drops the event and bumps a counter instead of
// blocking the caller.
//
// This package does not decide which events to emit; the engine does.
package audit
