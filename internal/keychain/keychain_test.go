package keychain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()

	kc, ok := Load(dir, "owner-1", "password")
	require.True(t, ok)
	assert.Empty(t, kc.Entries())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	kc, ok := Load(dir, "owner-1", "correct horse battery staple")
	require.True(t, ok)
	kc.Add("peer-a", []byte("key-for-a-symmetric-key-blob!!!"))
	kc.Add("peer-b", []byte("key-for-b-symmetric-key-blob!!!"))
	require.NoError(t, kc.Save())

	reloaded, ok := Load(dir, "owner-1", "correct horse battery staple")
	require.True(t, ok)
	assert.Equal(t, kc.Entries(), reloaded.Entries())

	key, ok := reloaded.Get("peer-a")
	require.True(t, ok)
	assert.Equal(t, []byte("key-for-a-symmetric-key-blob!!!"), key)
}

func TestLoadWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()

	kc, ok := Load(dir, "owner-1", "correct horse battery staple")
	require.True(t, ok)
	kc.Add("peer-a", []byte("key-for-a-symmetric-key-blob!!!"))
	require.NoError(t, kc.Save())

	_, ok = Load(dir, "owner-1", "wrong password")
	assert.False(t, ok)
}

func TestGetUnknownPeer(t *testing.T) {
	dir := t.TempDir()
	kc, ok := Load(dir, "owner-1", "password")
	require.True(t, ok)

	_, found := kc.Get("nobody")
	assert.False(t, found)
}
