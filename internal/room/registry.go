package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"coedit/pkg/interfaces"
)

// DefaultIdleGrace is how long an empty room survives before the reaper
// destroys it.
const DefaultIdleGrace = 24 * time.Hour

// Registry is the process-wide roomID -> Room table. Registry structure
// has its own lock; each room's commit protocol has its own. Rooms are
// created explicitly or on first join and destroyed explicitly or after
// the idle grace period, never while a session is attached.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	subs  map[string]interfaces.Subscription

	store      interfaces.RoomStore
	bridge     interfaces.Bridge
	maxHistory int
	idleGrace  time.Duration
}

// NewRegistry creates a registry. store may be nil for memory-only
// operation (rooms then do not survive a restart).
func NewRegistry(store interfaces.RoomStore, bridge interfaces.Bridge, maxHistory int, idleGrace time.Duration) *Registry {
	if idleGrace <= 0 {
		idleGrace = DefaultIdleGrace
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		subs:       make(map[string]interfaces.Subscription),
		store:      store,
		bridge:     bridge,
		maxHistory: maxHistory,
		idleGrace:  idleGrace,
	}
}

// LoadPersisted restores persisted rooms into the registry, seeding
// document content from the bridge cache where available. Called once
// at process start.
func (reg *Registry) LoadPersisted(ctx context.Context) error {
	if reg.store == nil {
		return nil
	}
	records, err := reg.store.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted rooms: %w", err)
	}
	for _, record := range records {
		rm := newRoom(record.ID, record.Language, reg.maxHistory, reg.bridge)
		rm.createdAt = record.CreatedAt
		if content, ok, err := reg.bridge.LoadDocument(ctx, record.ID); err != nil {
			log.Printf("document cache lookup for room %s failed: %v", record.ID, err)
		} else if ok {
			rm.SeedContent(content)
		}
		reg.install(ctx, rm)
	}
	log.Printf("Restored %d persisted rooms", len(records))
	return nil
}

// Create mints a new room with a fresh id and persists its metadata.
func (reg *Registry) Create(ctx context.Context, language string) (*Room, error) {
	rm := newRoom(uuid.New().String(), language, reg.maxHistory, reg.bridge)
	if err := reg.persist(ctx, rm); err != nil {
		return nil, err
	}
	reg.install(ctx, rm)
	log.Printf("Created room: id=%s language=%s", rm.ID(), rm.Language())
	return rm, nil
}

// GetOrCreate resolves a room, creating it with the given language on
// first use. The second return reports whether the room was created.
func (reg *Registry) GetOrCreate(ctx context.Context, roomID, language string) (*Room, bool, error) {
	reg.mu.RLock()
	rm, exists := reg.rooms[roomID]
	reg.mu.RUnlock()
	if exists {
		return rm, false, nil
	}

	rm = newRoom(roomID, language, reg.maxHistory, reg.bridge)
	if err := reg.persist(ctx, rm); err != nil {
		rm.destroy()
		return nil, false, err
	}

	reg.mu.Lock()
	if existing, exists := reg.rooms[roomID]; exists {
		// Lost the race to a concurrent creator; use theirs.
		reg.mu.Unlock()
		rm.destroy()
		return existing, false, nil
	}
	reg.rooms[roomID] = rm
	reg.mu.Unlock()

	reg.subscribe(ctx, rm)
	log.Printf("Created room on first use: id=%s language=%s", roomID, language)
	return rm, true, nil
}

// Get resolves an existing room.
func (reg *Registry) Get(roomID string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rm, exists := reg.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

// List returns all rooms in no particular order.
func (reg *Registry) List() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		rooms = append(rooms, rm)
	}
	return rooms
}

// Delete removes the room from lookup, closes its bridge subscription,
// forcibly disconnects all sessions, and deletes persisted metadata.
func (reg *Registry) Delete(ctx context.Context, roomID string) error {
	reg.mu.Lock()
	rm, exists := reg.rooms[roomID]
	if !exists {
		reg.mu.Unlock()
		return ErrRoomNotFound
	}
	delete(reg.rooms, roomID)
	sub := reg.subs[roomID]
	delete(reg.subs, roomID)
	reg.mu.Unlock()

	rm.destroy()
	return reg.uninstall(ctx, roomID, sub)
}

// uninstall closes the room's bridge subscription and deletes persisted
// metadata after the room left the lookup table.
func (reg *Registry) uninstall(ctx context.Context, roomID string, sub interfaces.Subscription) error {
	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Printf("closing bridge subscription for room %s: %v", roomID, err)
		}
	}
	if reg.store != nil {
		if err := reg.store.DeleteRoom(ctx, roomID); err != nil {
			return fmt.Errorf("failed to delete room metadata: %w", err)
		}
	}
	log.Printf("Destroyed room: id=%s", roomID)
	return nil
}

// Stats returns registry counters for the health endpoint.
func (reg *Registry) Stats() map[string]int {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		rooms = append(rooms, rm)
	}
	reg.mu.RUnlock()

	users := 0
	active := 0
	for _, rm := range rooms {
		users += rm.UserCount()
		if rm.State() == StateActive {
			active++
		}
	}
	return map[string]int{
		"total_rooms":  len(rooms),
		"active_rooms": active,
		"total_users":  users,
	}
}

// StartReaper runs the idle-room reaper until ctx is cancelled.
func (reg *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reg.reapIdle(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// reapIdle destroys rooms that have been empty longer than the grace
// period. Rooms with attached sessions are never reaped: the room's own
// destroyIfEmpty re-checks emptiness atomically with the destroy, so a
// join racing the reaper keeps the room alive.
func (reg *Registry) reapIdle(ctx context.Context) {
	cutoff := time.Now().Add(-reg.idleGrace)
	for _, rm := range reg.List() {
		if !rm.destroyIfEmpty(cutoff) {
			continue
		}
		reg.mu.Lock()
		delete(reg.rooms, rm.ID())
		sub := reg.subs[rm.ID()]
		delete(reg.subs, rm.ID())
		reg.mu.Unlock()

		if err := reg.uninstall(ctx, rm.ID(), sub); err != nil {
			log.Printf("reaping idle room %s failed: %v", rm.ID(), err)
		}
	}
}

// Shutdown closes all bridge subscriptions. Rooms are left intact for
// the persisted metadata to restore on next start.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	subs := reg.subs
	reg.subs = make(map[string]interfaces.Subscription)
	reg.mu.Unlock()

	for roomID, sub := range subs {
		if err := sub.Close(); err != nil {
			log.Printf("closing bridge subscription for room %s: %v", roomID, err)
		}
	}
}

func (reg *Registry) persist(ctx context.Context, rm *Room) error {
	if reg.store == nil {
		return nil
	}
	record := &interfaces.RoomRecord{
		ID:        rm.ID(),
		Language:  rm.Language(),
		CreatedAt: rm.CreatedAt(),
	}
	if err := reg.store.SaveRoom(ctx, record); err != nil {
		return fmt.Errorf("failed to persist room: %w", err)
	}
	return nil
}

func (reg *Registry) install(ctx context.Context, rm *Room) {
	reg.mu.Lock()
	if _, exists := reg.rooms[rm.ID()]; exists {
		reg.mu.Unlock()
		rm.destroy()
		return
	}
	reg.rooms[rm.ID()] = rm
	reg.mu.Unlock()
	reg.subscribe(ctx, rm)
}

// subscribe attaches the room to the fan-out bridge and relays remote
// frames to local sessions for the life of the subscription.
func (reg *Registry) subscribe(ctx context.Context, rm *Room) {
	if reg.bridge == nil {
		return
	}
	sub, err := reg.bridge.Subscribe(ctx, rm.ID())
	if err != nil {
		log.Printf("bridge subscription for room %s failed: %v", rm.ID(), err)
		return
	}
	reg.mu.Lock()
	reg.subs[rm.ID()] = sub
	reg.mu.Unlock()

	go func() {
		for data := range sub.Frames() {
			rm.BroadcastRaw(data, "")
		}
	}()
}
