// Package blocking implements the per-room block list: who has blocked a
// conversation and what each side is told about it.
package blocking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// State of a room's block list.
type State int

const (
	Unblocked State = iota
	BlockedByOne
	BlockedByBoth
)

func (s State) String() string {
	switch s {
	case BlockedByOne:
		return "blocked_by_one"
	case BlockedByBoth:
		return "blocked_by_both"
	default:
		return "unblocked"
	}
}

// StateOf derives the state from a room's block list.
func StateOf(room *types.Room) State {
	switch len(room.Blocked) {
	case 0:
		return Unblocked
	case 1:
		return BlockedByOne
	default:
		return BlockedByBoth
	}
}

// Transition is the outcome of a block or unblock request.
type Transition struct {
	Room *types.Room
	// Notice is what the other members of the room are told.
	Notice types.BlockNotice
	// Changed is false when the request left the list untouched.
	Changed bool
	// Broadcast is false when nothing should be sent to the room.
	Broadcast bool
}

// Machine applies block transitions through the room store. Each transition
// is a single atomic read-modify-write of the room's list, so concurrent
// requests from the two participants commute.
type Machine struct {
	rooms  interfaces.RoomStore
	logger *slog.Logger
}

func NewMachine(rooms interfaces.RoomStore, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{rooms: rooms, logger: logger.With("component", "blocking")}
}

// Block adds by to the room's block list. Blocking twice is a no-op but is
// still announced.
func (m *Machine) Block(ctx context.Context, roomAddress, by string) (*Transition, error) {
	if err := m.checkParticipant(ctx, roomAddress, by); err != nil {
		return nil, err
	}

	var changed bool
	room, err := m.rooms.UpdateBlockList(ctx, roomAddress, func(entries []types.BlockEntry) []types.BlockEntry {
		next := ApplyBlock(entries, by)
		changed = len(next) != len(entries)
		return next
	})
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", roomAddress, err)
	}

	m.logger.Info("room blocked", "room", roomAddress, "by", by, "state", StateOf(room), "changed", changed)
	return &Transition{
		Room:      room,
		Notice:    types.BlockNotice{BlockedBy: BlockNoticeFor(room.Blocked, by)},
		Changed:   changed,
		Broadcast: true,
	}, nil
}

// Unblock removes by's entry. When the list was already empty nothing is
// written and nothing is broadcast.
func (m *Machine) Unblock(ctx context.Context, roomAddress, by string) (*Transition, error) {
	room, err := m.participantRoom(ctx, roomAddress, by)
	if err != nil {
		return nil, err
	}
	if !room.IsBlocked() {
		return &Transition{Room: room, Notice: types.BlockNotice{Cleared: true}}, nil
	}

	var before, after int
	room, err = m.rooms.UpdateBlockList(ctx, roomAddress, func(entries []types.BlockEntry) []types.BlockEntry {
		before = len(entries)
		next := ApplyUnblock(entries, by)
		after = len(next)
		return next
	})
	if err != nil {
		return nil, fmt.Errorf("unblock %s: %w", roomAddress, err)
	}

	notice := types.BlockNotice{Cleared: true}
	if len(room.Blocked) > 0 {
		notice = types.BlockNotice{BlockedBy: room.Blocked[0].BlockedBy}
	}

	m.logger.Info("room unblocked", "room", roomAddress, "by", by, "state", StateOf(room), "changed", before != after)
	return &Transition{
		Room:      room,
		Notice:    notice,
		Changed:   before != after,
		Broadcast: before > 0,
	}, nil
}

// QueryForViewer loads the room and returns the blocker that is not viewer.
// An unknown room reads as unblocked.
func (m *Machine) QueryForViewer(ctx context.Context, roomAddress, viewer string) (string, error) {
	room, err := m.rooms.GetRoom(ctx, roomAddress)
	if errors.Is(err, interfaces.ErrRoomNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return QueryForViewer(room, viewer), nil
}

func (m *Machine) checkParticipant(ctx context.Context, roomAddress, identity string) error {
	_, err := m.participantRoom(ctx, roomAddress, identity)
	return err
}

func (m *Machine) participantRoom(ctx context.Context, roomAddress, identity string) (*types.Room, error) {
	room, err := m.rooms.GetRoom(ctx, roomAddress)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(identity) {
		return nil, ErrNotParticipant
	}
	return room, nil
}

// ApplyBlock appends by unless it already has an entry.
func ApplyBlock(entries []types.BlockEntry, by string) []types.BlockEntry {
	if lo.ContainsBy(entries, func(e types.BlockEntry) bool { return e.BlockedBy == by }) {
		return entries
	}
	return append(entries, types.BlockEntry{BlockedBy: by})
}

// ApplyUnblock drops by's entry; a nil result means the list is cleared.
func ApplyUnblock(entries []types.BlockEntry, by string) []types.BlockEntry {
	next := lo.Reject(entries, func(e types.BlockEntry, _ int) bool { return e.BlockedBy == by })
	if len(next) == 0 {
		return nil
	}
	return next
}

// BlockNoticeFor is the blocker announced after by blocks: the other
// participant when they also block the room, otherwise by.
func BlockNoticeFor(entries []types.BlockEntry, by string) string {
	if other, ok := lo.Find(entries, func(e types.BlockEntry) bool { return e.BlockedBy != by }); ok {
		return other.BlockedBy
	}
	return by
}

// QueryForViewer returns the blocker that is not viewer, or "" when only the
// viewer (or nobody) blocks the room.
func QueryForViewer(room *types.Room, viewer string) string {
	if other, ok := lo.Find(room.Blocked, func(e types.BlockEntry) bool { return e.BlockedBy != viewer }); ok {
		return other.BlockedBy
	}
	return ""
}
