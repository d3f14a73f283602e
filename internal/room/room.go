package room

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"coedit/internal/document"
	"coedit/internal/ot"
	"coedit/pkg/interfaces"
	"coedit/pkg/types"
)

// activeWindow is how recently a user must have sent traffic to count
// as active in room summaries.
const activeWindow = 5 * time.Minute

// fanoutBuffer bounds the per-room outbound event queue. Enqueueing
// blocks once the fan-out goroutine falls this far behind.
const fanoutBuffer = 256

// Room lifecycle states.
const (
	StateActive    = "active"
	StateIdle      = "idle"
	StateDestroyed = "destroyed"
)

// User is a room member's presence state. Owned by the room; created on
// connect, removed on disconnect.
type User struct {
	ID             string
	Username       string
	Color          string
	CursorPosition int
	SelectionStart *int
	SelectionEnd   *int
	LastActive     time.Time
}

func (u *User) wire() types.User {
	return types.User{
		UserID:         u.ID,
		Username:       u.Username,
		Color:          u.Color,
		CursorPosition: u.CursorPosition,
		SelectionStart: u.SelectionStart,
		SelectionEnd:   u.SelectionEnd,
		LastActive:     types.UnixTime(u.LastActive),
	}
}

// frameEvent is one outbound frame with its recipients resolved at
// enqueue time. Events are delivered strictly in enqueue order, which
// is commit order because producers enqueue under the room mutex.
type frameEvent struct {
	data    []byte
	conns   []interfaces.Connection
	relay   bool
	cache   bool
	content string
}

// Room is the aggregate owning one document, its presence state, and
// the set of live sessions. All document and membership mutation runs
// under a single per-room mutex, so at most one commit is in flight per
// room. Outbound frames are enqueued while the mutex is still held and
// delivered by the room's single fan-out goroutine, so members and the
// bridge see committed operations in commit order; the socket and Redis
// I/O itself never runs under the lock.
type Room struct {
	id        string
	language  string
	createdAt time.Time

	relay  interfaces.Bridge
	events chan frameEvent

	mu         sync.Mutex
	doc        *document.Document
	users      map[string]*User
	sessions   map[string]interfaces.Connection
	emptySince time.Time
	destroyed  bool
}

func newRoom(id, language string, maxHistory int, relay interfaces.Bridge) *Room {
	now := time.Now()
	r := &Room{
		id:         id,
		language:   language,
		createdAt:  now,
		relay:      relay,
		events:     make(chan frameEvent, fanoutBuffer),
		doc:        document.New(id, maxHistory),
		users:      make(map[string]*User),
		sessions:   make(map[string]interfaces.Connection),
		emptySince: now,
	}
	go r.fanout()
	return r
}

// fanout drains the event queue for the life of the room. It never
// takes the room mutex; recipients were resolved at enqueue time.
func (r *Room) fanout() {
	for ev := range r.events {
		for _, conn := range ev.conns {
			if err := conn.WriteRaw(ev.data); err != nil {
				log.Printf("delivery to user %s in room %s failed: %v", conn.GetUserID(), r.id, err)
			}
		}
		if r.relay == nil {
			continue
		}
		if ev.relay {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.relay.Publish(ctx, r.id, ev.data); err != nil {
				log.Printf("relaying frame for room %s failed: %v", r.id, err)
			}
			cancel()
		}
		if ev.cache {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.relay.StoreDocument(ctx, r.id, ev.content); err != nil {
				log.Printf("caching document for room %s failed: %v", r.id, err)
			}
			cancel()
		}
	}
}

// enqueueLocked queues a frame for every session except the excluded
// one. Caller holds r.mu.
func (r *Room) enqueueLocked(frame interface{}, excludeUserID string, relayFrame bool, cacheDoc bool) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("encoding frame for room %s failed: %v", r.id, err)
		return
	}
	conns := make([]interfaces.Connection, 0, len(r.sessions))
	for userID, conn := range r.sessions {
		if userID == excludeUserID {
			continue
		}
		conns = append(conns, conn)
	}
	ev := frameEvent{data: data, conns: conns, relay: relayFrame}
	if cacheDoc {
		ev.cache = true
		ev.content = r.doc.Content()
	}
	r.events <- ev
}

// enqueueToLocked queues a frame for a single session. Caller holds
// r.mu.
func (r *Room) enqueueToLocked(conn interfaces.Connection, frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("encoding frame for room %s failed: %v", r.id, err)
		return
	}
	r.events <- frameEvent{data: data, conns: []interfaces.Connection{conn}}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// Language returns the room's display-only language tag.
func (r *Room) Language() string {
	return r.language
}

// CreatedAt returns the room creation time.
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Join mints a fresh user with a palette color, registers the session
// for broadcasts, and queues the init snapshot to the new session plus
// the user_joined announcement to everyone else, all atomically with
// the registration.
func (r *Room) Join(conn interfaces.Connection, username string) (types.User, types.InitFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return types.User{}, types.InitFrame{}, ErrRoomDestroyed
	}

	user := &User{
		ID:         uuid.New().String(),
		Username:   username,
		Color:      colorForIndex(len(r.users)),
		LastActive: time.Now(),
	}
	r.users[user.ID] = user
	r.sessions[user.ID] = conn
	r.emptySince = time.Time{}

	init := types.InitFrame{
		Type:     types.FrameInit,
		UserID:   user.ID,
		Color:    user.Color,
		Document: r.doc.State(),
		Users:    r.wireUsers(),
	}
	r.enqueueToLocked(conn, init)

	joined := types.UserJoinedFrame{
		Type:      types.FrameUserJoined,
		User:      user.wire(),
		Timestamp: types.NowUnix(),
	}
	r.enqueueLocked(joined, user.ID, true, false)

	return user.wire(), init, nil
}

// Leave removes the user and their session registration, queueing the
// user_left announcement with the last known username. When the last
// user leaves the room transitions to idle.
func (r *Room) Leave(userID string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return types.User{}, false
	}
	delete(r.users, userID)
	delete(r.sessions, userID)
	if len(r.sessions) == 0 {
		r.emptySince = time.Now()
	}

	left := types.UserLeftFrame{
		Type:      types.FrameUserLeft,
		UserID:    user.ID,
		Username:  user.Username,
		Timestamp: types.NowUnix(),
	}
	r.enqueueLocked(left, userID, true, false)

	return user.wire(), true
}

// Commit runs the document commit protocol for an inbound operation,
// queueing the transformed operation to every other member and the
// bridge, with the updated content for the document cache. The frame is
// enqueued before the room mutex is released, so delivery order matches
// commit order. The returned frame carries the assigned server version.
func (r *Room) Commit(userID string, wireOp types.Operation) (types.OperationFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return types.OperationFrame{}, ErrRoomDestroyed
	}
	user, ok := r.users[userID]
	if !ok {
		return types.OperationFrame{}, ErrUserNotFound
	}
	user.LastActive = time.Now()

	op := ot.FromWire(wireOp)
	op.ClientID = userID
	if op.Timestamp == 0 {
		op.Timestamp = types.NowUnix()
	}

	committed, err := r.doc.Commit(op)
	if err != nil {
		return types.OperationFrame{}, err
	}

	frame := types.OperationFrame{
		Type:      types.FrameOperation,
		Operation: committed.ToWire(),
		UserID:    userID,
		Timestamp: types.NowUnix(),
	}
	r.enqueueLocked(frame, userID, true, true)

	return frame, nil
}

// UpdateCursor overwrites the user's presence state (last write wins)
// and queues the broadcast to everyone else.
func (r *Room) UpdateCursor(userID string, position int, selStart, selEnd *int) (types.CursorFrame, error) {
	if err := types.ValidateSelection(selStart, selEnd); err != nil {
		return types.CursorFrame{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return types.CursorFrame{}, ErrUserNotFound
	}
	user.CursorPosition = position
	user.SelectionStart = selStart
	user.SelectionEnd = selEnd
	user.LastActive = time.Now()

	frame := types.CursorFrame{
		Type:           types.FrameCursor,
		UserID:         userID,
		Position:       position,
		SelectionStart: selStart,
		SelectionEnd:   selEnd,
		Timestamp:      types.NowUnix(),
	}
	r.enqueueLocked(frame, userID, true, false)

	return frame, nil
}

// Touch refreshes the user's liveness timestamp without changing
// presence, e.g. on a ping frame.
func (r *Room) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[userID]; ok {
		user.LastActive = time.Now()
	}
}

// Resync queues an error frame followed by a fresh init snapshot to one
// member after a rejected operation. Both frames go through the fan-out
// queue, so the snapshot orders correctly against concurrent commits.
func (r *Room) Resync(userID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	conn := r.sessions[userID]

	r.enqueueToLocked(conn, types.ErrorFrame{
		Type:    types.FrameError,
		Message: message,
	})
	r.enqueueToLocked(conn, types.InitFrame{
		Type:     types.FrameInit,
		UserID:   user.ID,
		Color:    user.Color,
		Document: r.doc.State(),
		Users:    r.wireUsers(),
	})
	return nil
}

// BroadcastRaw queues an already-encoded frame, e.g. one received from
// the fan-out bridge, to every registered session. Frames entering
// through here are never relayed back to the bridge.
func (r *Room) BroadcastRaw(data []byte, excludeUserID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	conns := make([]interfaces.Connection, 0, len(r.sessions))
	for userID, conn := range r.sessions {
		if userID == excludeUserID {
			continue
		}
		conns = append(conns, conn)
	}
	r.events <- frameEvent{data: data, conns: conns}
}

// Content returns the current document text.
func (r *Room) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Content()
}

// Version returns the current document version.
func (r *Room) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Version()
}

// SeedContent installs cached document content recovered from the
// bridge. Only valid before any user joins.
func (r *Room) SeedContent(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if content != "" && r.doc.Version() == 0 {
		r.doc.SeedContent(content)
	}
}

// UserCount returns the number of connected users.
func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// ActiveUserCount returns how many users sent traffic recently.
func (r *Room) ActiveUserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	cutoff := time.Now().Add(-activeWindow)
	for _, user := range r.users {
		if user.LastActive.After(cutoff) {
			count++
		}
	}
	return count
}

// IsEmpty reports whether no sessions are attached.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) == 0
}

// IdleSince reports when the room last became empty. The second return
// is false while any session is attached.
func (r *Room) IdleSince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) > 0 || r.emptySince.IsZero() {
		return time.Time{}, false
	}
	return r.emptySince, true
}

// State returns the lifecycle state: active, idle, or destroyed.
func (r *Room) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.destroyed:
		return StateDestroyed
	case len(r.sessions) == 0:
		return StateIdle
	default:
		return StateActive
	}
}

// Users returns the wire form of all members.
func (r *Room) Users() []types.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wireUsers()
}

// Snapshot returns the full room lookup form.
func (r *Room) Snapshot() types.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.RoomSnapshot{
		RoomID:    r.id,
		CreatedAt: types.UnixTime(r.createdAt),
		Users:     r.wireUsers(),
		Document:  r.doc.State(),
		Language:  r.language,
	}
}

// Summary returns the list-endpoint form.
func (r *Room) Summary() types.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	cutoff := time.Now().Add(-activeWindow)
	for _, user := range r.users {
		if user.LastActive.After(cutoff) {
			count++
		}
	}
	return types.RoomSummary{
		RoomID:          r.id,
		UserCount:       len(r.users),
		ActiveUserCount: count,
		CreatedAt:       types.UnixTime(r.createdAt),
		Language:        r.language,
	}
}

// destroy marks the room destroyed, stops the fan-out goroutine, and
// closes every attached session. Called by the registry with the room
// already removed from lookup.
func (r *Room) destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	conns := make([]interfaces.Connection, 0, len(r.sessions))
	for _, conn := range r.sessions {
		conns = append(conns, conn)
	}
	r.users = make(map[string]*User)
	r.sessions = make(map[string]interfaces.Connection)
	close(r.events)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("closing session during room %s destroy: %v", r.id, err)
		}
	}
}

// destroyIfEmpty destroys the room only if no session is attached and
// it has been empty since before cutoff. The emptiness re-check runs in
// the same critical section that marks the room destroyed, so a session
// joining between the reaper's scan and the destroy keeps the room
// alive.
func (r *Room) destroyIfEmpty(cutoff time.Time) bool {
	r.mu.Lock()
	if r.destroyed || len(r.sessions) > 0 || r.emptySince.IsZero() || !r.emptySince.Before(cutoff) {
		r.mu.Unlock()
		return false
	}
	r.destroyed = true
	r.users = make(map[string]*User)
	r.sessions = make(map[string]interfaces.Connection)
	close(r.events)
	r.mu.Unlock()
	return true
}

func (r *Room) wireUsers() []types.User {
	users := make([]types.User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user.wire())
	}
	return users
}
