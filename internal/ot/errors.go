package ot

import "errors"

// Transform engine error types.
var (
	ErrOutOfRange    = errors.New("operation position out of range")
	ErrUnknownOpKind = errors.New("unknown operation kind")
)
