package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndListSnapshots(t *testing.T) {
	e := testEngine(t)
	_, err := e.RegisterClient("kara", "pw")
	require.NoError(t, err)

	name, err := e.SaveSnapshot()
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	names, err := e.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, name, names[0])
}

func TestSnapshotBacklogTrimsOldest(t *testing.T) {
	e := testEngine(t)
	e.cfg.SnapshotBacklog = 2

	var names []string
	for i := 0; i < 4; i++ {
		name, err := e.SaveSnapshot()
		require.NoError(t, err)
		names = append(names, name)
	}

	kept, err := e.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, kept, 2)
	assert.Equal(t, names[len(names)-2:], kept)
}

func TestLoadSnapshotRestoresPriorState(t *testing.T) {
	e := testEngine(t)
	_, err := e.RegisterClient("leo", "pw")
	require.NoError(t, err)

	snapshotName, err := e.SaveSnapshot()
	require.NoError(t, err)

	_, err = e.RegisterClient("mona", "pw")
	require.NoError(t, err)

	require.NoError(t, e.LoadSnapshot(snapshotName))

	_, err = e.GetUserUUID("leo")
	assert.NoError(t, err)
	_, err = e.GetUserUUID("mona")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRevertSnapshotLoadUndoesLoad(t *testing.T) {
	e := testEngine(t)
	_, err := e.RegisterClient("nora", "pw")
	require.NoError(t, err)

	snapshotName, err := e.SaveSnapshot()
	require.NoError(t, err)

	_, err = e.RegisterClient("oscar", "pw")
	require.NoError(t, err)

	require.NoError(t, e.LoadSnapshot(snapshotName))
	require.NoError(t, e.RevertSnapshotLoad())

	_, err = e.GetUserUUID("oscar")
	assert.NoError(t, err, "revert should restore the state from before the load")
}

func TestRevertSnapshotLoadWithoutPriorLoad(t *testing.T) {
	e := testEngine(t)
	err := e.RevertSnapshotLoad()
	assert.ErrorIs(t, err, ErrNoPriorSnapshotLoad)
}

func TestLoadUnknownSnapshot(t *testing.T) {
	e := testEngine(t)
	err := e.LoadSnapshot("does-not-exist")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
