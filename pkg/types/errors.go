package types

import "errors"

// Validation error types shared across components.
var (
	ErrInvalidRoomID    = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidUsername  = errors.New("username must be 1-50 printable characters")
	ErrInvalidLanguage  = errors.New("language must be 1-50 characters")
	ErrInvalidFrameType = errors.New("unknown frame type")
	ErrInvalidOpType    = errors.New("operation type must be insert or delete")
	ErrInvalidSelection = errors.New("selection start and end must both be set, with start <= end")
)
