package websocket

import "errors"

var (
	// ErrConnectionClosed indicates a write was attempted on a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidJSON indicates a payload could not be marshaled for sending
	ErrInvalidJSON = errors.New("invalid JSON payload")

	// ErrWriteTimeout indicates the send buffer stayed full past the write timeout
	ErrWriteTimeout = errors.New("write timeout")
)
