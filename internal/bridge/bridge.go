// Package bridge relays committed frames between server processes
// hosting the same room, over Redis pub/sub, and caches document
// content for restart recovery.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coedit/pkg/interfaces"
)

const (
	channelPrefix  = "room:"
	documentPrefix = "document:"
	documentTTL    = 24 * time.Hour
)

// envelope wraps a frame with its originating process so subscribers
// can drop their own publishes and deliver each frame exactly once per
// process.
type envelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisBridge implements interfaces.Bridge over a Redis server shared
// by all processes.
type RedisBridge struct {
	client *redis.Client
	origin string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr string, db int) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisBridge{
		client: client,
		origin: uuid.New().String(),
	}, nil
}

// Publish relays an encoded frame to every other process subscribed to
// the room.
func (b *RedisBridge) Publish(ctx context.Context, roomID string, frame []byte) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, Frame: frame})
	if err != nil {
		return fmt.Errorf("failed to encode bridge envelope: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+roomID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to room channel: %w", err)
	}
	return nil
}

// Subscribe opens a remote-frame stream for the room. Frames published
// by this process are filtered out before delivery.
func (b *RedisBridge) Subscribe(ctx context.Context, roomID string) (interfaces.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channelPrefix+roomID)
	// Force the subscription onto the wire before returning so no
	// frame published after Subscribe returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room channel: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		frames: make(chan []byte, 64),
	}
	go sub.relay(b.origin, roomID)
	return sub, nil
}

// StoreDocument caches the latest content with the standard expiry.
func (b *RedisBridge) StoreDocument(ctx context.Context, roomID, content string) error {
	if err := b.client.Set(ctx, documentPrefix+roomID, content, documentTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache document: %w", err)
	}
	return nil
}

// LoadDocument retrieves cached content, reporting absence without
// error.
func (b *RedisBridge) LoadDocument(ctx context.Context, roomID string) (string, bool, error) {
	content, err := b.client.Get(ctx, documentPrefix+roomID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load cached document: %w", err)
	}
	return content, true, nil
}

// HealthCheck verifies the Redis connection.
func (b *RedisBridge) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the Redis client; open subscriptions drain and close.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	frames chan []byte
}

func (s *redisSubscription) relay(origin, roomID string) {
	defer close(s.frames)
	for msg := range s.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("dropping malformed bridge envelope for room %s: %v", roomID, err)
			continue
		}
		if env.Origin == origin {
			continue
		}
		s.frames <- []byte(env.Frame)
	}
}

func (s *redisSubscription) Frames() <-chan []byte {
	return s.frames
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
