package clientcore_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/iplchat/internal/broker"
	"github.com/kindlyrobotics/iplchat/internal/clientcore"
	"github.com/kindlyrobotics/iplchat/internal/config"
	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/models"
	"github.com/kindlyrobotics/iplchat/internal/session"
	"github.com/kindlyrobotics/iplchat/internal/store"
)

// startTestBroker runs a real TCP listener backed by a fresh broker and
// engine, returning its address and a shutdown function.
func startTestBroker(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = dir
	cfg.DatabaseName = "clientcore-test.db"
	cfg.SnapshotPath = filepath.Join(dir, "snapshots")

	engine, err := store.Open(cfg)
	require.NoError(t, err)

	b := broker.New(cfg, session.New(), engine)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go b.HandleConn(nc)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		engine.Close()
	})
	return ln.Addr().String()
}

func newTestClient(t *testing.T, addr string) *clientcore.Client {
	t.Helper()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	c := clientcore.New(identity, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, addr))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRegisterFetchChannels(t *testing.T) {
	addr := startTestBroker(t)
	client := newTestClient(t, addr)

	require.NoError(t, client.Register("alice", "hunter2"))
	assert.Equal(t, "alice", client.Username())

	channels, err := client.FetchChannels()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "alice", channels[0].Name)
}

func TestClientPeerExchangeAndMessageDelivery(t *testing.T) {
	addr := startTestBroker(t)

	alice := newTestClient(t, addr)
	require.NoError(t, alice.Register("alice", "p1"))
	require.NoError(t, alice.StartNotificationListener("127.0.0.1:0"))

	bob := newTestClient(t, addr)
	require.NoError(t, bob.Register("bob", "p1"))
	require.NoError(t, bob.StartNotificationListener("127.0.0.1:0"))

	bobUUID := ""
	refs, err := alice.SearchUsers("bob")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	bobUUID = refs[0].UUID

	received := make(chan clientcore.Envelope, 1)
	bob.OnMessage(func(e clientcore.Envelope) { received <- e })

	peerJoined := make(chan string, 1)
	bob.OnPeerJoined(func(peerUUID string) { peerJoined <- peerUUID })

	require.NoError(t, alice.JoinChannel(bobUUID))
	require.NoError(t, alice.BeginPeerExchange(bobUUID))

	select {
	case joined := <-peerJoined:
		assert.NotEmpty(t, joined)
	case <-time.After(2 * time.Second):
		t.Fatal("bob never observed the peer handshake")
	}

	require.NoError(t, alice.SendMessage(bobUUID, []byte("hello bob"), models.KindText))

	select {
	case env := <-received:
		assert.Equal(t, "hello bob", string(env.Plaintext))
		assert.Equal(t, bobUUID, env.ChannelUUID)
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the message")
	}
}
