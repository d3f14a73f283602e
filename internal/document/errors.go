package document

import "errors"

// Commit protocol error types.
var (
	ErrStaleVersion  = errors.New("operation origin version predates retained history")
	ErrFutureVersion = errors.New("operation origin version is ahead of the document")
)
