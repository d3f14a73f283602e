package bridge

import (
	"context"
	"sync"

	"coedit/pkg/interfaces"
)

// Noop is the single-instance fallback bridge used when Redis is
// unavailable. Publishes vanish, subscriptions never deliver, and the
// document cache is empty. A single process needs none of them for
// correctness.
type Noop struct{}

// NewNoop creates the fallback bridge.
func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) Publish(ctx context.Context, roomID string, frame []byte) error {
	return nil
}

func (*Noop) Subscribe(ctx context.Context, roomID string) (interfaces.Subscription, error) {
	return &noopSubscription{frames: make(chan []byte)}, nil
}

func (*Noop) StoreDocument(ctx context.Context, roomID, content string) error {
	return nil
}

func (*Noop) LoadDocument(ctx context.Context, roomID string) (string, bool, error) {
	return "", false, nil
}

func (*Noop) HealthCheck(ctx context.Context) error {
	return nil
}

func (*Noop) Close() error {
	return nil
}

type noopSubscription struct {
	frames    chan []byte
	closeOnce sync.Once
}

func (s *noopSubscription) Frames() <-chan []byte {
	return s.frames
}

func (s *noopSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.frames) })
	return nil
}
