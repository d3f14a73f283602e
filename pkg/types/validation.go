package types

import (
	"regexp"
	"unicode"
)

var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidRoomID checks if a room ID meets format requirements. Room IDs
// are URL-safe tokens so they can appear in paths and Redis keys without
// escaping.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidUsername checks a display name. Usernames are display-only, so
// any printable runes are accepted within the length bound.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	for _, r := range username {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// IsValidLanguage checks a room language tag. The tag is free-form and
// display-only; only the length is bounded.
func IsValidLanguage(language string) bool {
	return len(language) >= 1 && len(language) <= 50
}

// Validate checks structural invariants of an inbound operation. Range
// checks against document content are the document's job; this only
// rejects shapes that can never be valid.
func (op *Operation) Validate() error {
	if op.Type != OpInsert && op.Type != OpDelete {
		return ErrInvalidOpType
	}
	return nil
}

// ValidateSelection enforces the selection pair invariant: both bounds
// set with start <= end, or neither set.
func ValidateSelection(start, end *int) error {
	if start == nil && end == nil {
		return nil
	}
	if start == nil || end == nil {
		return ErrInvalidSelection
	}
	if *start > *end {
		return ErrInvalidSelection
	}
	return nil
}
