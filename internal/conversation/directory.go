// Package conversation resolves a participant pair to its room.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

var (
	ErrInvalidPair      = errors.New("both participants are required")
	ErrSelfConversation = errors.New("participants must be different identities")
	ErrMissingAddress   = errors.New("a room address is required to create a room")
)

var _ interfaces.ConversationResolver = (*Directory)(nil)

// Directory is the get-or-create front of the rooms collection.
//
// Callers in this process that race on the same pair share one lookup
// through a singleflight group. Races across processes or directories are
// settled by the store's unique pair key: losing the insert is treated as
// finding the winner's room.
type Directory struct {
	rooms  interfaces.RoomStore
	group  singleflight.Group
	logger *slog.Logger
}

type resolution struct {
	room    *types.Room
	created bool
	claimed atomic.Bool
}

func NewDirectory(rooms interfaces.RoomStore, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{rooms: rooms, logger: logger.With("component", "conversation")}
}

// ResolveOrCreate returns the room for {a, b}. proposedAddress is only used
// when the room has to be created; created is true for at most one caller.
func (d *Directory) ResolveOrCreate(ctx context.Context, a, b, proposedAddress string) (*types.Room, bool, error) {
	if err := checkPair(a, b); err != nil {
		return nil, false, err
	}

	low, high := a, b
	if high < low {
		low, high = high, low
	}
	detached := context.WithoutCancel(ctx)

	v, err, _ := d.group.Do(low+"\x00"+high, func() (interface{}, error) {
		return d.resolve(detached, a, b, proposedAddress)
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(*resolution)
	created := res.created && res.claimed.CompareAndSwap(false, true)
	return res.room, created, nil
}

// Lookup returns the existing room for {a, b} without creating one.
func (d *Directory) Lookup(ctx context.Context, a, b string) (*types.Room, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	return d.rooms.FindRoomByPair(ctx, a, b)
}

func (d *Directory) resolve(ctx context.Context, a, b, proposedAddress string) (*resolution, error) {
	room, err := d.rooms.FindRoomByPair(ctx, a, b)
	if err == nil {
		return &resolution{room: room}, nil
	}
	if !errors.Is(err, interfaces.ErrRoomNotFound) {
		return nil, fmt.Errorf("failed to look up room: %w", err)
	}
	if proposedAddress == "" {
		return nil, ErrMissingAddress
	}

	room = &types.Room{
		ParticipantA: a,
		ParticipantB: b,
		RoomAddress:  proposedAddress,
	}
	err = d.rooms.CreateRoom(ctx, room)
	if err == nil {
		d.logger.Info("room created", "room", room.RoomAddress, "a", a, "b", b)
		return &resolution{room: room, created: true}, nil
	}
	if !errors.Is(err, interfaces.ErrRoomExists) && !errors.Is(err, interfaces.ErrRoomAddressTaken) {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	existing, findErr := d.rooms.FindRoomByPair(ctx, a, b)
	switch {
	case findErr == nil:
		d.logger.Info("room creation race recovered", "room", existing.RoomAddress, "a", a, "b", b)
		return &resolution{room: existing}, nil
	case errors.Is(findErr, interfaces.ErrRoomNotFound):
		// the address belongs to a different pair
		return nil, fmt.Errorf("room %q: %w", proposedAddress, err)
	default:
		return nil, fmt.Errorf("failed to look up room after conflict: %w", findErr)
	}
}

func checkPair(a, b string) error {
	if a == "" || b == "" {
		return ErrInvalidPair
	}
	if a == b {
		return ErrSelfConversation
	}
	return nil
}
