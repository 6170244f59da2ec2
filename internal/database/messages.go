package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pairchat/pkg/types"
)

const messageColumns = `id, room_address, sender, receiver, data, current_time_mili, created_at`

// StoreMessage implements interfaces.MessageStore.
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.StoredAt.IsZero() {
		message.StoredAt = m.now().UTC()
	}
	low, high := pairKey(message.Sender, message.Receiver)

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO messages (id, room_address, sender, receiver, pair_low, pair_high, data, current_time_mili, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			message.ID, message.RoomAddress, message.Sender, message.Receiver,
			low, high, message.Data, message.CurrentTimeMili, message.StoredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetConversationHistory implements interfaces.MessageStore. Messages with
// equal timestamps keep insertion order.
func (m *Manager) GetConversationHistory(ctx context.Context, a, b string) ([]*types.Message, error) {
	low, high := pairKey(a, b)
	return m.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE pair_low = ? AND pair_high = ?
		 ORDER BY current_time_mili ASC, rowid ASC`,
		low, high)
}

// GetLastMessageBetween implements interfaces.MessageStore.
func (m *Manager) GetLastMessageBetween(ctx context.Context, a, b string) (*types.Message, error) {
	low, high := pairKey(a, b)
	row := m.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE pair_low = ? AND pair_high = ?
		 ORDER BY current_time_mili DESC, rowid DESC
		 LIMIT 1`,
		low, high)

	message, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last message: %w", err)
	}
	return message, nil
}

// ListUserMessages implements interfaces.MessageStore.
func (m *Manager) ListUserMessages(ctx context.Context, email string) ([]*types.Message, error) {
	return m.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE sender = ? OR receiver = ?
		 ORDER BY current_time_mili DESC, rowid DESC`,
		email, email)
}

func (m *Manager) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*types.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var message types.Message
	err := row.Scan(
		&message.ID,
		&message.RoomAddress,
		&message.Sender,
		&message.Receiver,
		&message.Data,
		&message.CurrentTimeMili,
		&message.StoredAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}
