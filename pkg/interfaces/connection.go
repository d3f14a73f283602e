package interfaces

// Connection is the live-session back reference a room broadcasts
// through. Rooms never own a session's lifetime; the connection layer
// registers on connect and unregisters on disconnect.
type Connection interface {
	// WriteJSON sends a JSON frame to the client (thread-safe).
	WriteJSON(v interface{}) error

	// WriteRaw sends an already-encoded frame to the client
	// (thread-safe). Used to relay fan-out bridge frames without
	// re-encoding.
	WriteRaw(data []byte) error

	// Close tears down the connection and releases its resources.
	Close() error

	// GetUserID returns the user ID minted for this session.
	GetUserID() string

	// GetRoomID returns the room this session is attached to.
	GetRoomID() string
}
