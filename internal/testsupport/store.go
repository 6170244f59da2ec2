// Package testsupport holds helpers shared by package tests.
package testsupport

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pairchat/internal/database"
	dbconfig "pairchat/pkg/database"
	"pairchat/pkg/types"
)

// NewStore opens a migrated sqlite store in a temp dir. It is closed when
// the test ends.
func NewStore(t testing.TB) *database.Manager {
	t.Helper()
	return OpenStore(t, filepath.Join(t.TempDir(), "pairchat.db"))
}

// OpenStore opens a store at path, letting two stores share one file.
func OpenStore(t testing.TB, path string) *database.Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = path

	store, err := database.NewManager(context.Background(), config, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedRoom creates a room for a and b at address.
func SeedRoom(t testing.TB, store *database.Manager, address, a, b string) *types.Room {
	t.Helper()
	room := &types.Room{RoomAddress: address, ParticipantA: a, ParticipantB: b}
	require.NoError(t, store.CreateRoom(context.Background(), room))
	return room
}

// SeedUser inserts a user with the given profile fields.
func SeedUser(t testing.TB, store *database.Manager, email string, profile map[string]interface{}) {
	t.Helper()
	_, err := store.InsertUserIfAbsent(context.Background(), &types.User{Email: email, Profile: profile})
	require.NoError(t, err)
}
