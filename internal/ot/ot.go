package ot

import (
	"unicode/utf8"

	"coedit/pkg/types"
)

// Operation is the internal form of a single edit flowing through the
// transform engine. Positions and lengths are character (rune) offsets
// into the pre-operation document, matching the wire protocol. For
// deletes the length of Content is authoritative; its bytes are only
// kept for transform bookkeeping.
type Operation struct {
	Kind          string
	Position      int
	Content       string
	ClientID      string
	Timestamp     float64
	OriginVersion int
	ServerVersion int
}

// FromWire converts a wire operation into internal form.
func FromWire(w types.Operation) Operation {
	return Operation{
		Kind:          w.Type,
		Position:      w.Position,
		Content:       w.Content,
		ClientID:      w.ClientID,
		Timestamp:     w.Timestamp,
		OriginVersion: w.Version,
	}
}

// ToWire converts a committed operation back into wire form. Version
// carries the assigned server version.
func (op Operation) ToWire() types.Operation {
	return types.Operation{
		Type:      op.Kind,
		Position:  op.Position,
		Content:   op.Content,
		ClientID:  op.ClientID,
		Timestamp: op.Timestamp,
		Version:   op.ServerVersion,
	}
}

// Length is the character count the operation inserts or removes.
func (op Operation) Length() int {
	return utf8.RuneCountInString(op.Content)
}

// end is the exclusive end of a delete's range in the pre-op document.
func (op Operation) end() int {
	return op.Position + op.Length()
}

// Apply applies op to content and returns the new content. Out-of-range
// operations fail without modifying anything; callers must reject them
// rather than apply a truncated edit.
func Apply(content string, op Operation) (string, error) {
	runes := []rune(content)
	if op.Position < 0 {
		return "", ErrOutOfRange
	}
	switch op.Kind {
	case types.OpInsert:
		if op.Position > len(runes) {
			return "", ErrOutOfRange
		}
		return string(runes[:op.Position]) + op.Content + string(runes[op.Position:]), nil
	case types.OpDelete:
		if op.end() > len(runes) {
			return "", ErrOutOfRange
		}
		return string(runes[:op.Position]) + string(runes[op.end():]), nil
	default:
		return "", ErrUnknownOpKind
	}
}

// Transform adjusts op so that applying it after committed yields the
// intended concurrent result, given that both were generated against the
// same base document. The committed operation always wins position ties:
// commit order is assigned by a single authority per room, so every
// replica resolves the tie identically.
func Transform(committed, op Operation) Operation {
	switch committed.Kind {
	case types.OpInsert:
		return transformAgainstInsert(committed, op)
	case types.OpDelete:
		return transformAgainstDelete(committed, op)
	default:
		return op
	}
}

// TransformAll folds op through a sequence of committed operations in
// commit order.
func TransformAll(committed []Operation, op Operation) Operation {
	for _, c := range committed {
		op = Transform(c, op)
	}
	return op
}

func transformAgainstInsert(committed, op Operation) Operation {
	// Positions at or after the insert shift right by its length. A tie
	// means the committed insert lands first and op moves after it.
	if op.Position >= committed.Position {
		op.Position += committed.Length()
	}
	return op
}

func transformAgainstDelete(committed, op Operation) Operation {
	delStart, delEnd, delLen := committed.Position, committed.end(), committed.Length()

	if op.Kind != types.OpDelete {
		switch {
		case op.Position >= delEnd:
			op.Position -= delLen
		case op.Position >= delStart:
			// The insertion point no longer exists; collapse to the
			// start of the removed range.
			op.Position = delStart
		}
		return op
	}

	// Delete vs delete: subtract whatever the committed delete already
	// removed so the remaining length never goes negative.
	opStart, opEnd := op.Position, op.end()
	switch {
	case opStart >= delEnd:
		op.Position -= delLen
	case opEnd <= delStart:
		// Entirely before the committed range, unchanged.
	default:
		overlap := minInt(opEnd, delEnd) - maxInt(opStart, delStart)
		remaining := op.Length() - overlap
		if remaining < 0 {
			remaining = 0
		}
		op.Content = truncateRunes(op.Content, remaining)
		if opStart >= delStart {
			op.Position = delStart
		}
	}
	return op
}

// truncateRunes keeps the first n characters of s. For deletes only the
// character count is authoritative, so which characters survive does not
// affect the applied result.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[:n])
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
