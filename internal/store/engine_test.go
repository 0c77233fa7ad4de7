package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/iplchat/internal/config"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = dir
	cfg.DatabaseName = "test.db"
	cfg.SnapshotPath = filepath.Join(dir, "snapshots")

	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRegisterAndLogin(t *testing.T) {
	e := testEngine(t)

	userUUID, err := e.RegisterClient("alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, userUUID)

	loggedInUUID, err := e.Login("alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, userUUID, loggedInUUID)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	e := testEngine(t)

	_, err := e.RegisterClient("bob", "pw")
	require.NoError(t, err)

	_, err = e.RegisterClient("bob", "different")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestLoginUnknownUser(t *testing.T) {
	e := testEngine(t)
	_, err := e.Login("ghost", "pw")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLoginWrongPassword(t *testing.T) {
	e := testEngine(t)
	_, err := e.RegisterClient("carol", "correct-horse")
	require.NoError(t, err)

	_, err = e.Login("carol", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestDeauthenticate(t *testing.T) {
	e := testEngine(t)
	userUUID, err := e.RegisterClient("dave", "pw")
	require.NoError(t, err)
	_, err = e.Login("dave", "pw")
	require.NoError(t, err)

	require.NoError(t, e.Deauthenticate(userUUID))
}

func TestGetUserUUIDAndUsername(t *testing.T) {
	e := testEngine(t)
	userUUID, err := e.RegisterClient("erin", "pw")
	require.NoError(t, err)

	gotUUID, err := e.GetUserUUID("erin")
	require.NoError(t, err)
	assert.Equal(t, userUUID, gotUUID)

	gotUsername, err := e.GetUsername(userUUID)
	require.NoError(t, err)
	assert.Equal(t, "erin", gotUsername)
}

func TestGetUserUUIDNotFound(t *testing.T) {
	e := testEngine(t)
	_, err := e.GetUserUUID("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
