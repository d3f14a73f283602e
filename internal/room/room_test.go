package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"coedit/pkg/types"
)

// fakeConn records every frame a room delivers to it.
type fakeConn struct {
	mu     sync.Mutex
	raw    [][]byte
	closed bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteRaw(data)
}

func (c *fakeConn) WriteRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = append(c.raw, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) GetUserID() string { return "" }
func (c *fakeConn) GetRoomID() string { return "" }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// framesOfType counts delivered frames whose type field matches kind.
func (c *fakeConn) framesOfType(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, data := range c.raw {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}
		if head.Type == kind {
			count++
		}
	}
	return count
}

// operationVersions extracts the server version of every delivered
// operation frame, in delivery order.
func (c *fakeConn) operationVersions() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var versions []int
	for _, data := range c.raw {
		var frame types.OperationFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == types.FrameOperation {
			versions = append(versions, frame.Operation.Version)
		}
	}
	return versions
}

// waitFor polls cond until it holds, failing the test on timeout.
// Delivery runs on the room's fan-out goroutine, so tests wait rather
// than assert immediately.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestRoom_JoinAssignsIdentityAndColor(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)

	conn1 := &fakeConn{}
	user1, init1, err := rm.Join(conn1, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if user1.UserID == "" {
		t.Error("expected a minted user ID")
	}
	if user1.Color != userColors[0] {
		t.Errorf("first user color = %q, want %q", user1.Color, userColors[0])
	}
	if init1.Type != types.FrameInit {
		t.Errorf("init frame type = %q", init1.Type)
	}
	if len(init1.Users) != 1 {
		t.Errorf("init user list has %d entries, want 1", len(init1.Users))
	}
	waitFor(t, "init delivery", func() bool {
		return conn1.framesOfType(types.FrameInit) == 1
	})

	conn2 := &fakeConn{}
	user2, init2, err := rm.Join(conn2, "bob")
	if err != nil {
		t.Fatalf("second Join failed: %v", err)
	}
	if user2.UserID == user1.UserID {
		t.Error("user IDs must be unique per connection")
	}
	if user2.Color == user1.Color {
		t.Errorf("concurrent users share color %q", user2.Color)
	}
	if len(init2.Users) != 2 {
		t.Errorf("second init user list has %d entries, want 2", len(init2.Users))
	}
	waitFor(t, "join announcement", func() bool {
		return conn1.framesOfType(types.FrameUserJoined) == 1
	})
	if conn2.framesOfType(types.FrameUserJoined) != 0 {
		t.Error("joining user received their own announcement")
	}
}

func TestRoom_BroadcastExcludesOrigin(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)

	conn1 := &fakeConn{}
	user1, _, err := rm.Join(conn1, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	conn2 := &fakeConn{}
	if _, _, err := rm.Join(conn2, "bob"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if _, err := rm.UpdateCursor(user1.UserID, 1, nil, nil); err != nil {
		t.Fatalf("UpdateCursor failed: %v", err)
	}
	waitFor(t, "peer delivery", func() bool {
		return conn2.framesOfType(types.FrameCursor) == 1
	})
	if conn1.framesOfType(types.FrameCursor) != 0 {
		t.Error("origin received its own broadcast")
	}

	// Bridge relay frames go to every member.
	rm.BroadcastRaw([]byte(`{"type":"pong"}`), "")
	waitFor(t, "relay delivery", func() bool {
		return conn1.framesOfType(types.FramePong) == 1 &&
			conn2.framesOfType(types.FramePong) == 1
	})
}

func TestRoom_LeaveReturnsLastKnownUser(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)
	user, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	left, ok := rm.Leave(user.UserID)
	if !ok {
		t.Fatal("Leave reported unknown user")
	}
	if left.Username != "alice" {
		t.Errorf("departed username = %q, want %q", left.Username, "alice")
	}
	if rm.UserCount() != 0 {
		t.Errorf("user count = %d after leave, want 0", rm.UserCount())
	}

	if _, ok := rm.Leave(user.UserID); ok {
		t.Error("second Leave should report unknown user")
	}
}

func TestRoom_CommitAndBroadcastFrame(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)
	user, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	frame, err := rm.Commit(user.UserID, types.Operation{
		Type:     types.OpInsert,
		Position: 0,
		Content:  "hello",
		Version:  0,
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if frame.Operation.Version != 1 {
		t.Errorf("broadcast operation version = %d, want 1", frame.Operation.Version)
	}
	if frame.Operation.ClientID != user.UserID {
		t.Errorf("broadcast clientId = %q, want origin user", frame.Operation.ClientID)
	}
	if rm.Content() != "hello" {
		t.Errorf("content = %q, want %q", rm.Content(), "hello")
	}

	if _, err := rm.Commit("nobody", types.Operation{Type: types.OpInsert}); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound for unknown user, got %v", err)
	}
}

// Commits are serialized per room and their frames are queued before the
// commit lock is released, so every member must observe server versions
// in exactly commit order even when writers race.
func TestRoom_DeliveryFollowsCommitOrder(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)

	watcher := &fakeConn{}
	if _, _, err := rm.Join(watcher, "watcher"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	alice, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	bob, _, err := rm.Join(&fakeConn{}, "bob")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	const perWriter = 50
	var wg sync.WaitGroup
	for _, userID := range []string{alice.UserID, bob.UserID} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				op := types.Operation{Type: types.OpInsert, Position: 0, Content: "a", Version: 0}
				if _, err := rm.Commit(userID, op); err != nil {
					t.Errorf("Commit failed: %v", err)
					return
				}
			}
		}(userID)
	}
	wg.Wait()

	waitFor(t, "all operation deliveries", func() bool {
		return watcher.framesOfType(types.FrameOperation) == 2*perWriter
	})

	versions := watcher.operationVersions()
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("delivery order broke at index %d: got version %d, want %d (full: %v)", i, v, i+1, versions)
		}
	}
}

func TestRoom_CursorUpdateIsIdempotent(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)
	user, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	start, end := 2, 5
	first, err := rm.UpdateCursor(user.UserID, 3, &start, &end)
	if err != nil {
		t.Fatalf("UpdateCursor failed: %v", err)
	}
	second, err := rm.UpdateCursor(user.UserID, 3, &start, &end)
	if err != nil {
		t.Fatalf("repeated UpdateCursor failed: %v", err)
	}

	if first.Position != second.Position ||
		*first.SelectionStart != *second.SelectionStart ||
		*first.SelectionEnd != *second.SelectionEnd {
		t.Error("repeated identical cursor updates changed presence state")
	}

	users := rm.Users()
	if len(users) != 1 || users[0].CursorPosition != 3 {
		t.Errorf("presence state = %+v, want cursor at 3", users)
	}
}

func TestRoom_CursorSelectionValidation(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)
	user, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	start, end := 5, 2
	if _, err := rm.UpdateCursor(user.UserID, 0, &start, &end); err != types.ErrInvalidSelection {
		t.Errorf("expected ErrInvalidSelection for start > end, got %v", err)
	}
	if _, err := rm.UpdateCursor(user.UserID, 0, &start, nil); err != types.ErrInvalidSelection {
		t.Errorf("expected ErrInvalidSelection for half-set pair, got %v", err)
	}
	if _, err := rm.UpdateCursor(user.UserID, 4, nil, nil); err != nil {
		t.Errorf("cursor without selection should be valid, got %v", err)
	}
}

func TestRoom_ResyncSendsErrorThenSnapshot(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)
	conn := &fakeConn{}
	user, _, err := rm.Join(conn, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if err := rm.Resync(user.UserID, "version too old"); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	waitFor(t, "resync delivery", func() bool {
		return conn.framesOfType(types.FrameError) == 1 &&
			conn.framesOfType(types.FrameInit) == 2
	})

	if err := rm.Resync("nobody", "x"); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound for unknown user, got %v", err)
	}
}

func TestRoom_LifecycleStates(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)

	if rm.State() != StateIdle {
		t.Errorf("fresh room state = %q, want idle", rm.State())
	}
	if _, idle := rm.IdleSince(); !idle {
		t.Error("fresh room should report an idle timestamp")
	}

	user, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if rm.State() != StateActive {
		t.Errorf("occupied room state = %q, want active", rm.State())
	}
	if _, idle := rm.IdleSince(); idle {
		t.Error("occupied room must not report idle")
	}

	before := time.Now()
	rm.Leave(user.UserID)
	since, idle := rm.IdleSince()
	if !idle {
		t.Fatal("empty room should report idle")
	}
	if since.Before(before.Add(-time.Second)) {
		t.Errorf("idle since %v predates the disconnect", since)
	}

	rm.destroy()
	if rm.State() != StateDestroyed {
		t.Errorf("destroyed room state = %q", rm.State())
	}
	if _, _, err := rm.Join(&fakeConn{}, "bob"); err != ErrRoomDestroyed {
		t.Errorf("join after destroy: expected ErrRoomDestroyed, got %v", err)
	}
}

func TestRoom_DestroyClosesSessions(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)
	conn := &fakeConn{}
	if _, _, err := rm.Join(conn, "alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	rm.destroy()
	if !conn.isClosed() {
		t.Error("destroy must close attached sessions")
	}
}

// A reaper decides from a past idle observation, so the destroy itself
// must re-check emptiness: a session that attached in between keeps the
// room alive.
func TestRoom_DestroyIfEmptySparesAttachedSessions(t *testing.T) {
	rm := newRoom("room1", "python", 0, nil)
	user, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	rm.Leave(user.UserID)
	if _, idle := rm.IdleSince(); !idle {
		t.Fatal("empty room should report idle")
	}

	// Session attaches after the idle observation above but before the
	// destroy decision acts on it.
	joined, _, err := rm.Join(&fakeConn{}, "bob")
	if err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if rm.destroyIfEmpty(time.Now().Add(time.Hour)) {
		t.Fatal("room with an attached session was destroyed")
	}
	op := types.Operation{Type: types.OpInsert, Position: 0, Content: "x", Version: 0}
	if _, err := rm.Commit(joined.UserID, op); err != nil {
		t.Fatalf("room unusable after reap attempt: %v", err)
	}

	rm.Leave(joined.UserID)
	if !rm.destroyIfEmpty(time.Now().Add(time.Hour)) {
		t.Fatal("expired empty room should be destroyed")
	}
	if _, _, err := rm.Join(&fakeConn{}, "carol"); err != ErrRoomDestroyed {
		t.Errorf("join after reap: expected ErrRoomDestroyed, got %v", err)
	}
}

func TestRoom_SummaryAndSnapshot(t *testing.T) {
	rm := newRoom("room1", "go", 0, nil)
	user, _, err := rm.Join(&fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := rm.Commit(user.UserID, types.Operation{Type: types.OpInsert, Content: "abc"}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	summary := rm.Summary()
	if summary.RoomID != "room1" || summary.Language != "go" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.UserCount != 1 || summary.ActiveUserCount != 1 {
		t.Errorf("summary counts = %d/%d, want 1/1", summary.UserCount, summary.ActiveUserCount)
	}

	snapshot := rm.Snapshot()
	if snapshot.Document.Content != "abc" || snapshot.Document.Version != 1 {
		t.Errorf("snapshot document = %+v", snapshot.Document)
	}
	if len(snapshot.Users) != 1 {
		t.Errorf("snapshot users = %d, want 1", len(snapshot.Users))
	}
}
