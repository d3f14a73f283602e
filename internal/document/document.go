package document

import (
	"fmt"

	"coedit/internal/ot"
	"coedit/pkg/types"
)

// DefaultMaxHistory is the number of committed operations retained for
// transforming stragglers. A client further behind than this window is
// resynchronized with a fresh snapshot instead.
const DefaultMaxHistory = 1024

// Document is the authoritative versioned text buffer for one room. The
// version starts at 0 and increases by exactly 1 per committed
// operation. Document is not safe for concurrent use; the owning room
// serializes all access.
type Document struct {
	id      string
	content string
	version int

	// history holds committed operations in commit order;
	// history[i].ServerVersion == baseVersion+i+1. Operations older than
	// baseVersion have been pruned.
	history     []ot.Operation
	baseVersion int
	maxHistory  int
}

// New creates an empty document. maxHistory <= 0 selects the default
// retention window.
func New(id string, maxHistory int) *Document {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Document{id: id, maxHistory: maxHistory}
}

// ID returns the document identifier (the room id).
func (d *Document) ID() string {
	return d.id
}

// Content returns the current text.
func (d *Document) Content() string {
	return d.content
}

// Version returns the current committed version.
func (d *Document) Version() int {
	return d.version
}

// State returns the snapshot wire form.
func (d *Document) State() types.DocumentState {
	return types.DocumentState{
		DocumentID: d.id,
		Content:    d.content,
		Version:    d.version,
	}
}

// SeedContent installs externally cached content, e.g. recovered from
// the fan-out bridge's document cache after a restart. It bumps the
// version so the seed counts as a committed change.
func (d *Document) SeedContent(content string) {
	d.content = content
	d.version++
	d.history = nil
	d.baseVersion = d.version
}

// Commit runs the full commit protocol for one inbound operation:
// transform against everything committed since the operation's origin
// version, validate the result against the current content, apply, and
// stamp the next server version. The document is unchanged on error.
func (d *Document) Commit(op ot.Operation) (ot.Operation, error) {
	if op.OriginVersion > d.version {
		return ot.Operation{}, ErrFutureVersion
	}
	missed, err := d.OperationsSince(op.OriginVersion)
	if err != nil {
		return ot.Operation{}, err
	}

	transformed := ot.TransformAll(missed, op)

	content, err := ot.Apply(d.content, transformed)
	if err != nil {
		return ot.Operation{}, err
	}

	d.content = content
	d.version++
	transformed.ServerVersion = d.version
	d.history = append(d.history, transformed)
	d.prune()

	return transformed, nil
}

// OperationsSince returns committed operations with server version
// greater than version, in commit order. It returns ErrStaleVersion if
// that range has been pruned.
func (d *Document) OperationsSince(version int) ([]ot.Operation, error) {
	if version < d.baseVersion {
		return nil, fmt.Errorf("%w: origin %d, oldest retained %d",
			ErrStaleVersion, version, d.baseVersion)
	}
	if version >= d.version {
		return nil, nil
	}
	ops := d.history[version-d.baseVersion:]
	out := make([]ot.Operation, len(ops))
	copy(out, ops)
	return out, nil
}

// OldestRetainedVersion reports how far back stragglers can reference.
func (d *Document) OldestRetainedVersion() int {
	return d.baseVersion
}

func (d *Document) prune() {
	if excess := len(d.history) - d.maxHistory; excess > 0 {
		d.history = append([]ot.Operation(nil), d.history[excess:]...)
		d.baseVersion += excess
	}
}
