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

// InsertUserIfAbsent implements interfaces.UserStore.
func (m *Manager) InsertUserIfAbsent(ctx context.Context, user *types.User) (bool, error) {
	profile, err := encodeProfile(user.Profile)
	if err != nil {
		return false, err
	}

	var inserted bool
	err = m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO users (email, profile, created_at, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(email) DO NOTHING`,
			user.Email, profile, m.now().UTC(), m.now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// GetUser implements interfaces.UserStore.
func (m *Manager) GetUser(ctx context.Context, email string) (*types.User, error) {
	var profile string
	err := m.db.QueryRowContext(ctx, `SELECT profile FROM users WHERE email = ?`, email).Scan(&profile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return decodeUser(email, profile)
}

// UpsertUserProfile implements interfaces.UserStore. The merge runs inside
// the writer so concurrent updates to the same user never lose fields.
func (m *Manager) UpsertUserProfile(ctx context.Context, email string, fields map[string]interface{}) (*types.User, error) {
	var user *types.User
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		current := map[string]interface{}{}
		var raw string
		err = tx.QueryRowContext(ctx, `SELECT profile FROM users WHERE email = ?`, email).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to query user: %w", err)
		default:
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("failed to decode profile: %w", err)
			}
		}

		for k, v := range fields {
			if k == "email" {
				continue
			}
			current[k] = v
		}
		encoded, err := encodeProfile(current)
		if err != nil {
			return err
		}

		now := m.now().UTC()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (email, profile, created_at, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(email) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`,
			email, encoded, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit user update: %w", err)
		}

		user = &types.User{Email: email, Profile: current}
		return nil
	})
	return user, err
}

// ListUsersExcept implements interfaces.UserStore.
func (m *Manager) ListUsersExcept(ctx context.Context, email string) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT email, profile FROM users WHERE email <> ? ORDER BY email`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		var userEmail, profile string
		if err := rows.Scan(&userEmail, &profile); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		user, err := decodeUser(userEmail, profile)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

func encodeProfile(profile map[string]interface{}) (string, error) {
	if profile == nil {
		return "{}", nil
	}
	clean := make(map[string]interface{}, len(profile))
	for k, v := range profile {
		if k != "email" {
			clean[k] = v
		}
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	return string(data), nil
}

func decodeUser(email, profile string) (*types.User, error) {
	user := &types.User{Email: email, Profile: map[string]interface{}{}}
	if err := json.Unmarshal([]byte(profile), &user.Profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile for %s: %w", email, err)
	}
	return user, nil
}
