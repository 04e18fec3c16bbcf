package interfaces

import "livegrade/pkg/types"

// Connection abstracts one client transport connection. The registry,
// room manager and dispatcher operate on this interface so tests can
// substitute in-memory fakes for WebSocket connections.
type Connection interface {
	// ID returns the opaque connection identifier, unique per
	// transport connection.
	ID() string

	// Send queues an event for delivery. Events queued from a single
	// goroutine arrive in queue order. Returns an error when the
	// connection is closed or its send buffer is full.
	Send(event types.ServerEvent) error

	// Close tears down the transport. Safe to call more than once.
	Close() error
}
