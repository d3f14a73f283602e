package interfaces

import "context"

// Subscription is a live frame stream for one room key. Frames
// originating from this process are filtered out by the bridge, so a
// subscriber only sees frames committed on other processes.
type Subscription interface {
	// Frames returns the channel remote frames arrive on. The channel
	// is closed when the subscription is closed or the bridge shuts
	// down.
	Frames() <-chan []byte

	// Close cancels the subscription and closes the frame channel.
	Close() error
}

// Bridge is the multi-process broadcast relay. Every server process
// hosting members of a room publishes its committed frames and
// subscribes for frames committed elsewhere, in commit order per
// originating process.
type Bridge interface {
	// Publish relays an encoded frame to all other processes hosting
	// the room.
	Publish(ctx context.Context, roomID string, frame []byte) error

	// Subscribe opens a remote-frame stream for the room.
	Subscribe(ctx context.Context, roomID string) (Subscription, error)

	// StoreDocument caches the latest document content keyed by room
	// id, with a bounded expiry.
	StoreDocument(ctx context.Context, roomID, content string) error

	// LoadDocument retrieves cached document content. The second
	// return reports whether content was present.
	LoadDocument(ctx context.Context, roomID string) (string, bool, error)

	// HealthCheck verifies the relay is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases all subscriptions and the underlying client.
	Close() error
}
