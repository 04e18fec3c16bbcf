package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send buffer full past write timeout")
	ErrInvalidEvent     = errors.New("event failed to serialize")
)

// Handler-related errors
var (
	ErrAuthenticateFirst = errors.New("first event must be authenticate")
)
