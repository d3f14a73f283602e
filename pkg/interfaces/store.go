package interfaces

import (
	"context"
	"time"
)

// RoomRecord is the persisted metadata for one room. Document content
// is not persisted here; within a process lifetime it lives in memory,
// optionally cached by the bridge.
type RoomRecord struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomStore persists room metadata so rooms survive a process restart.
type RoomStore interface {
	// SaveRoom inserts or replaces a room record.
	SaveRoom(ctx context.Context, record *RoomRecord) error

	// DeleteRoom removes a room record. Deleting an absent room is not
	// an error.
	DeleteRoom(ctx context.Context, roomID string) error

	// ListRooms returns all persisted rooms.
	ListRooms(ctx context.Context) ([]*RoomRecord, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}
