package interfaces

import (
	"context"

	"pairchat/pkg/types"
)

// UserStore is the users collection.
type UserStore interface {
	// InsertUserIfAbsent stores user unless a user with the same email
	// exists. It reports whether a row was inserted; an existing user is
	// never overwritten.
	InsertUserIfAbsent(ctx context.Context, user *types.User) (bool, error)

	// GetUser returns ErrUserNotFound when no user has this email.
	GetUser(ctx context.Context, email string) (*types.User, error)

	// UpsertUserProfile merges fields into the user's profile, creating the
	// user if needed. The email key is ignored.
	UpsertUserProfile(ctx context.Context, email string, fields map[string]interface{}) (*types.User, error)

	// ListUsersExcept returns every user but email, ordered by email.
	ListUsersExcept(ctx context.Context, email string) ([]*types.User, error)
}

// RoomStore is the rooms collection.
type RoomStore interface {
	// CreateRoom inserts a room. It fails with ErrRoomExists when the pair
	// already has a room and ErrRoomAddressTaken when the address is used by
	// another pair.
	CreateRoom(ctx context.Context, room *types.Room) error

	// FindRoomByPair matches either ordering of the pair.
	FindRoomByPair(ctx context.Context, a, b string) (*types.Room, error)

	GetRoom(ctx context.Context, roomAddress string) (*types.Room, error)

	// UpdateBlockList applies fn to the room's block list as one atomic
	// read-modify-write and returns the room after the update. An empty
	// result clears the list.
	UpdateBlockList(ctx context.Context, roomAddress string, fn func([]types.BlockEntry) []types.BlockEntry) (*types.Room, error)
}

// MessageStore is the messages collection.
type MessageStore interface {
	// StoreMessage appends message. ID and StoredAt are filled in.
	StoreMessage(ctx context.Context, message *types.Message) error

	// GetConversationHistory returns every message between a and b in
	// either direction, ascending by CurrentTimeMili.
	GetConversationHistory(ctx context.Context, a, b string) ([]*types.Message, error)

	// GetLastMessageBetween returns nil when the pair never exchanged a
	// message.
	GetLastMessageBetween(ctx context.Context, a, b string) (*types.Message, error)

	// ListUserMessages returns every message sent or received by email,
	// newest first.
	ListUserMessages(ctx context.Context, email string) ([]*types.Message, error)
}

// Store is the complete persistence layer.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	HealthCheck(ctx context.Context) error
	Close() error
}
