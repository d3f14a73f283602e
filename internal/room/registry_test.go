package room

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil, nil, 0, 0)
	ctx := context.Background()

	rm1, created, err := reg.GetOrCreate(ctx, "room1", "python")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created {
		t.Error("first GetOrCreate should report created")
	}

	rm2, created, err := reg.GetOrCreate(ctx, "room1", "go")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if created {
		t.Error("second GetOrCreate should not report created")
	}
	if rm1 != rm2 {
		t.Error("GetOrCreate returned a different room for the same id")
	}
	if rm2.Language() != "python" {
		t.Errorf("language = %q, want the creator's language", rm2.Language())
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	reg := NewRegistry(nil, nil, 0, 0)
	if _, err := reg.Get("missing"); err != ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_CreateMintsUniqueIDs(t *testing.T) {
	reg := NewRegistry(nil, nil, 0, 0)
	ctx := context.Background()

	rm1, err := reg.Create(ctx, "python")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	rm2, err := reg.Create(ctx, "python")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rm1.ID() == rm2.ID() {
		t.Error("created rooms share an id")
	}
	if len(reg.List()) != 2 {
		t.Errorf("registry lists %d rooms, want 2", len(reg.List()))
	}
}

func TestRegistry_DeleteDisconnectsSessions(t *testing.T) {
	reg := NewRegistry(nil, nil, 0, 0)
	ctx := context.Background()

	rm, _, err := reg.GetOrCreate(ctx, "room1", "python")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	conn := &fakeConn{}
	if _, _, err := rm.Join(conn, "alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if err := reg.Delete(ctx, "room1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !conn.isClosed() {
		t.Error("delete must forcibly disconnect sessions")
	}
	if _, err := reg.Get("room1"); err != ErrRoomNotFound {
		t.Errorf("deleted room still resolvable: %v", err)
	}
	if err := reg.Delete(ctx, "room1"); err != ErrRoomNotFound {
		t.Errorf("double delete: expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_ReapsOnlyExpiredIdleRooms(t *testing.T) {
	reg := NewRegistry(nil, nil, 0, 50*time.Millisecond)
	ctx := context.Background()

	// Occupied room: must never be reaped.
	occupied, _, err := reg.GetOrCreate(ctx, "occupied", "python")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, _, err := occupied.Join(&fakeConn{}, "alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	// Idle room: empty since creation, past the grace period.
	if _, _, err := reg.GetOrCreate(ctx, "idle", "python"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	reg.reapIdle(ctx)

	if _, err := reg.Get("idle"); err != ErrRoomNotFound {
		t.Error("expired idle room should have been reaped")
	}
	if _, err := reg.Get("occupied"); err != nil {
		t.Errorf("occupied room was reaped: %v", err)
	}

	// A room that empties and rejoins within the grace period survives.
	rm, _, err := reg.GetOrCreate(ctx, "revived", "python")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	user, _, err := rm.Join(&fakeConn{}, "bob")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	rm.Leave(user.UserID)
	if _, _, err := rm.Join(&fakeConn{}, "carol"); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	reg.reapIdle(ctx)
	if _, err := reg.Get("revived"); err != nil {
		t.Errorf("occupied revived room was reaped: %v", err)
	}
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	reg := NewRegistry(nil, nil, 0, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	rooms := make([]*Room, 16)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rm, _, err := reg.GetOrCreate(ctx, "shared", "python")
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			rooms[i] = rm
		}(i)
	}
	wg.Wait()

	for i, rm := range rooms {
		if rm != rooms[0] {
			t.Fatalf("goroutine %d got a different room instance", i)
		}
	}
	if len(reg.List()) != 1 {
		t.Errorf("registry lists %d rooms, want 1", len(reg.List()))
	}
}

func TestRegistry_Stats(t *testing.T) {
	reg := NewRegistry(nil, nil, 0, 0)
	ctx := context.Background()

	rm, _, err := reg.GetOrCreate(ctx, "room1", "python")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, _, err := rm.Join(&fakeConn{}, "alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, _, err := reg.GetOrCreate(ctx, "room2", "go"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	stats := reg.Stats()
	if stats["total_rooms"] != 2 {
		t.Errorf("total_rooms = %d, want 2", stats["total_rooms"])
	}
	if stats["active_rooms"] != 1 {
		t.Errorf("active_rooms = %d, want 1", stats["active_rooms"])
	}
	if stats["total_users"] != 1 {
		t.Errorf("total_users = %d, want 1", stats["total_users"])
	}
}
