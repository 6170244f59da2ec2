package interfaces

import (
	"context"

	"pairchat/pkg/types"
)

// ConversationResolver maps a participant pair to its room, creating the
// room on first contact.
type ConversationResolver interface {
	ResolveOrCreate(ctx context.Context, a, b, proposedAddress string) (*types.Room, bool, error)
}

// RoomBroadcaster delivers events to the members of a room.
type RoomBroadcaster interface {
	Join(roomAddress string, conn Connection)
	Leave(roomAddress string, conn Connection)
	LeaveAll(conn Connection)

	// Broadcast sends to every member but exclude and returns the number of
	// connections written to.
	Broadcast(roomAddress string, frame interface{}, exclude Connection) int
}
