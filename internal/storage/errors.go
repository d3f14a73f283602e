package storage

import "errors"

// Store error types.
var (
	ErrStoreClosed  = errors.New("room store is closed")
	ErrWriteTimeout = errors.New("room store write timed out")
)
