package room

import "errors"

// Room and registry error types.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomDestroyed = errors.New("room has been destroyed")
	ErrUserNotFound  = errors.New("user not in room")
)
