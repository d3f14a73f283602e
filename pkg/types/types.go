package types

import (
	"time"
)

// Frame type constants shared by the WebSocket protocol. Inbound and
// outbound frames both carry one of these in their "type" field.
const (
	FrameInit       = "init"
	FrameOperation  = "operation"
	FrameCursor     = "cursor"
	FrameUserJoined = "user_joined"
	FrameUserLeft   = "user_left"
	FramePing       = "ping"
	FramePong       = "pong"
	FrameError      = "error"
)

// Operation kinds.
const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// CloseRoomNotFound is sent when a client connects to a room that does
// not exist. 4xxx codes are reserved for application use.
const CloseRoomNotFound = 4004

// MaxMessageSize bounds a single inbound frame (1MB).
const MaxMessageSize = 1024 * 1024

// Operation is the wire form of a single edit. On inbound frames Version
// is the document version the client generated the edit against; on
// outbound broadcasts it is the server version assigned at commit.
type Operation struct {
	Type      string  `json:"type"`
	Position  int     `json:"position"`
	Content   string  `json:"content"`
	ClientID  string  `json:"clientId"`
	Timestamp float64 `json:"timestamp"`
	Version   int     `json:"version"`
}

// DocumentState is the snapshot form of a document sent in init frames
// and room lookups.
type DocumentState struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Version    int    `json:"version"`
}

// User is the wire form of a room member. SelectionStart and SelectionEnd
// are either both set or both null.
type User struct {
	UserID         string  `json:"userId"`
	Username       string  `json:"username"`
	Color          string  `json:"color"`
	CursorPosition int     `json:"cursorPosition"`
	SelectionStart *int    `json:"selectionStart"`
	SelectionEnd   *int    `json:"selectionEnd"`
	LastActive     float64 `json:"lastActive"`
}

// ClientFrame is the single decode target for all inbound frames. Fields
// beyond Type are populated depending on the frame type.
type ClientFrame struct {
	Type           string     `json:"type"`
	Operation      *Operation `json:"operation,omitempty"`
	Position       int        `json:"position,omitempty"`
	SelectionStart *int       `json:"selectionStart,omitempty"`
	SelectionEnd   *int       `json:"selectionEnd,omitempty"`
}

// InitFrame is the first outbound frame on every new session.
type InitFrame struct {
	Type     string        `json:"type"`
	UserID   string        `json:"userId"`
	Color    string        `json:"color"`
	Document DocumentState `json:"document"`
	Users    []User        `json:"users"`
}

// OperationFrame broadcasts a committed operation to room members.
type OperationFrame struct {
	Type      string    `json:"type"`
	Operation Operation `json:"operation"`
	UserID    string    `json:"userId"`
	Timestamp float64   `json:"timestamp"`
}

// CursorFrame broadcasts a presence update to room members.
type CursorFrame struct {
	Type           string  `json:"type"`
	UserID         string  `json:"userId"`
	Position       int     `json:"position"`
	SelectionStart *int    `json:"selectionStart"`
	SelectionEnd   *int    `json:"selectionEnd"`
	Timestamp      float64 `json:"timestamp"`
}

// UserJoinedFrame announces a new room member to existing members.
type UserJoinedFrame struct {
	Type      string  `json:"type"`
	User      User    `json:"user"`
	Timestamp float64 `json:"timestamp"`
}

// UserLeftFrame announces a departed member with their last known name.
type UserLeftFrame struct {
	Type      string  `json:"type"`
	UserID    string  `json:"userId"`
	Username  string  `json:"username"`
	Timestamp float64 `json:"timestamp"`
}

// PongFrame answers a client ping.
type PongFrame struct {
	Type string `json:"type"`
}

// ErrorFrame notifies the originating session of a rejected operation.
// It is followed by a fresh init frame so the client can resynchronize.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomSummary is the list-endpoint form of a room.
type RoomSummary struct {
	RoomID          string  `json:"roomId"`
	UserCount       int     `json:"userCount"`
	ActiveUserCount int     `json:"activeUserCount"`
	CreatedAt       float64 `json:"createdAt"`
	Language        string  `json:"language"`
}

// RoomSnapshot is the single-room lookup form.
type RoomSnapshot struct {
	RoomID    string        `json:"roomId"`
	CreatedAt float64       `json:"createdAt"`
	Users     []User        `json:"users"`
	Document  DocumentState `json:"document"`
	Language  string        `json:"language"`
}

// UnixTime converts a time.Time to the float epoch-seconds form used on
// the wire.
func UnixTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// NowUnix returns the current time in wire form.
func NowUnix() float64 {
	return UnixTime(time.Now())
}
