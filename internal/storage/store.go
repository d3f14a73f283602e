// Package storage persists room metadata in SQLite so rooms survive a
// process restart. Document content is not stored here; the bridge's
// document cache covers that.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"coedit/pkg/interfaces"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	language   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rooms_created_at ON rooms(created_at);
`

// Store implements interfaces.RoomStore over SQLite. Writes are
// funneled through a single goroutine; SQLite tolerates concurrent
// reads under WAL but performs best with one writer.
type Store struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

type writeOp struct {
	exec   func(*sql.DB) error
	result chan error
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open room store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create room schema: %w", err)
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.exec(s.db)
			if err != nil {
				log.Printf("room store write failed, retrying: %v", err)
				err = op.exec(s.db)
			}
			op.result <- err
		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(exec func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{exec: exec, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// SaveRoom inserts or replaces a room record.
func (s *Store) SaveRoom(ctx context.Context, record *interfaces.RoomRecord) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR REPLACE INTO rooms (id, language, created_at) VALUES (?, ?, ?)",
			record.ID, record.Language, record.CreatedAt.UTC())
		return err
	})
}

// DeleteRoom removes a room record; deleting an absent room succeeds.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomID)
		return err
	})
}

// ListRooms returns all persisted rooms ordered by creation time.
func (s *Store) ListRooms(ctx context.Context) ([]*interfaces.RoomRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, language, created_at FROM rooms ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*interfaces.RoomRecord
	for rows.Next() {
		record := &interfaces.RoomRecord{}
		if err := rows.Scan(&record.ID, &record.Language, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
