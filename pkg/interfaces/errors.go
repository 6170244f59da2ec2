package interfaces

import "errors"

// Store errors shared by every store implementation.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists for participant pair")
	ErrRoomAddressTaken = errors.New("room address already in use")
)
