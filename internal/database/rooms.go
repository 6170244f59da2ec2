package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

const roomColumns = `room_address, participant_a, participant_b, blocked, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CreateRoom implements interfaces.RoomStore.
func (m *Manager) CreateRoom(ctx context.Context, room *types.Room) error {
	if room.ParticipantA == room.ParticipantB {
		return fmt.Errorf("room participants must differ: %s", room.ParticipantA)
	}
	blocked, err := encodeBlocked(room.Blocked)
	if err != nil {
		return err
	}
	low, high := pairKey(room.ParticipantA, room.ParticipantB)
	if room.CreatedAt.IsZero() {
		room.CreatedAt = m.now().UTC()
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO rooms (room_address, participant_a, participant_b, pair_low, pair_high, blocked, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			room.RoomAddress, room.ParticipantA, room.ParticipantB, low, high, blocked, room.CreatedAt,
		)
		if err != nil {
			return classifyRoomInsert(err)
		}
		return nil
	})
}

// FindRoomByPair implements interfaces.RoomStore.
func (m *Manager) FindRoomByPair(ctx context.Context, a, b string) (*types.Room, error) {
	low, high := pairKey(a, b)
	row := m.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE pair_low = ? AND pair_high = ?`, low, high)
	return scanRoom(row)
}

// GetRoom implements interfaces.RoomStore.
func (m *Manager) GetRoom(ctx context.Context, roomAddress string) (*types.Room, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE room_address = ?`, roomAddress)
	return scanRoom(row)
}

// UpdateBlockList implements interfaces.RoomStore. The read and the write
// share one transaction on the writer goroutine.
func (m *Manager) UpdateBlockList(ctx context.Context, roomAddress string, fn func([]types.BlockEntry) []types.BlockEntry) (*types.Room, error) {
	var updated *types.Room
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		room, err := scanRoom(tx.QueryRowContext(ctx,
			`SELECT `+roomColumns+` FROM rooms WHERE room_address = ?`, roomAddress))
		if err != nil {
			return err
		}

		current := append([]types.BlockEntry(nil), room.Blocked...)
		next := fn(current)
		if len(next) == 0 {
			next = nil
		}
		blocked, err := encodeBlocked(next)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE rooms SET blocked = ? WHERE room_address = ?`, blocked, roomAddress); err != nil {
			return fmt.Errorf("failed to update block list: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit block list: %w", err)
		}

		room.Blocked = next
		updated = room
		return nil
	})
	return updated, err
}

func scanRoom(row rowScanner) (*types.Room, error) {
	var (
		room    types.Room
		blocked sql.NullString
	)
	err := row.Scan(&room.RoomAddress, &room.ParticipantA, &room.ParticipantB, &blocked, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	if blocked.Valid && blocked.String != "" {
		if err := json.Unmarshal([]byte(blocked.String), &room.Blocked); err != nil {
			return nil, fmt.Errorf("failed to decode block list: %w", err)
		}
		if len(room.Blocked) == 0 {
			room.Blocked = nil
		}
	}
	return &room, nil
}

// encodeBlocked stores an empty list as NULL.
func encodeBlocked(entries []types.BlockEntry) (interface{}, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block list: %w", err)
	}
	return string(data), nil
}
