package database

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"pairchat/pkg/interfaces"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// isRetryable reports whether err is a transient lock conflict worth one
// more attempt.
func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// classifyRoomInsert maps a unique violation on the rooms table to the
// matching store error. Any other error is returned unchanged.
func classifyRoomInsert(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return err
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
		strings.Contains(sqliteErr.Error(), "rooms.room_address"):
		return interfaces.ErrRoomAddressTaken
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return interfaces.ErrRoomExists
	}
	return err
}
