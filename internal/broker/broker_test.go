package broker

import (
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/iplchat/internal/config"
	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/models"
	"github.com/kindlyrobotics/iplchat/internal/notify"
	"github.com/kindlyrobotics/iplchat/internal/session"
	"github.com/kindlyrobotics/iplchat/internal/store"
	"github.com/kindlyrobotics/iplchat/internal/wire"
)

// testBroker spins up a Broker over a fresh in-memory-ish engine, returning
// it alongside a function that drives one client connection through it.
func testBroker(t *testing.T) (*Broker, func() (client *wire.Conn, closeFn func())) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = dir
	cfg.DatabaseName = "broker-test.db"
	cfg.SnapshotPath = filepath.Join(dir, "snapshots")

	engine, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	reg := session.New()
	b := New(cfg, reg, engine)

	dial := func() (*wire.Conn, func()) {
		serverSide, clientSide := net.Pipe()
		go b.HandleConn(serverSide)
		client := wire.NewConn(clientSide, 5*time.Second)
		return client, func() { clientSide.Close() }
	}
	return b, dial
}

// testClient bundles one connected, identity-bearing test client.
type testClient struct {
	conn       *wire.Conn
	identity   *crypto.KeyPair
	sessionKey []byte
	userUUID   string
	username   string
}

func connectAndHandshake(t *testing.T, dial func() (*wire.Conn, func())) *testClient {
	t.Helper()
	conn, _ := dial()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	require.NoError(t, conn.Send(&wire.Packet{Type: wire.HandshakeRequest, Payload: identity.Public()}))
	resp, err := conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.HandshakeResponse, resp.Type)

	sessionKey, err := crypto.AsymDecrypt(identity.Private(), resp.Payload)
	require.NoError(t, err)

	return &testClient{conn: conn, identity: identity, sessionKey: sessionKey}
}

func (c *testClient) register(t *testing.T, username, password string) {
	t.Helper()
	creds, err := wire.EncodeCredentials(username, password)
	require.NoError(t, err)
	sealed, err := crypto.SealSession(c.sessionKey, creds)
	require.NoError(t, err)

	require.NoError(t, c.conn.Send(&wire.Packet{Type: wire.RegisterRequest, Payload: sealed}))
	resp, err := c.conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.RegisterResponse, resp.Type, "expected RegisterResponse, got %s", resp.Type)

	plaintext, err := crypto.OpenSession(c.sessionKey, resp.Payload)
	require.NoError(t, err)
	c.userUUID = string(plaintext)
	c.username = username
}

func (c *testClient) registerNotificationPort(t *testing.T, port int) {
	t.Helper()
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(port))
	require.NoError(t, c.conn.Send(&wire.Packet{Type: wire.NotificationPort, Payload: payload}))
	resp, err := c.conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.NotificationPortResponse, resp.Type)
}

func TestRegisterThenLoginSucceeds(t *testing.T) {
	_, dial := testBroker(t)
	client := connectAndHandshake(t, dial)
	client.register(t, "alice", "p1")
	assert.NotEmpty(t, client.userUUID)

	loginClient := connectAndHandshake(t, dial)
	creds, err := wire.EncodeCredentials("alice", "p1")
	require.NoError(t, err)
	sealed, err := crypto.SealSession(loginClient.sessionKey, creds)
	require.NoError(t, err)

	require.NoError(t, loginClient.conn.Send(&wire.Packet{Type: wire.LoginRequest, Payload: sealed}))
	resp, err := loginClient.conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.LoginResponse, resp.Type)

	plaintext, err := crypto.OpenSession(loginClient.sessionKey, resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, client.userUUID, string(plaintext))
}

func TestLoginWithWrongPasswordReturnsError(t *testing.T) {
	_, dial := testBroker(t)
	registrant := connectAndHandshake(t, dial)
	registrant.register(t, "alice", "p1")

	loginClient := connectAndHandshake(t, dial)
	creds, err := wire.EncodeCredentials("alice", "p2")
	require.NoError(t, err)
	sealed, err := crypto.SealSession(loginClient.sessionKey, creds)
	require.NoError(t, err)

	require.NoError(t, loginClient.conn.Send(&wire.Packet{Type: wire.LoginRequest, Payload: sealed}))
	resp, err := loginClient.conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.LoginError, resp.Type)
}

func TestChannelFetchReturnsSelfChannelAfterRegister(t *testing.T) {
	_, dial := testBroker(t)
	client := connectAndHandshake(t, dial)
	client.register(t, "alice", "p1")

	require.NoError(t, client.conn.Send(&wire.Packet{Type: wire.ChannelFetchRequest}))
	resp, err := client.conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.ChannelFetchResponse, resp.Type)

	plaintext, err := crypto.OpenSession(client.sessionKey, resp.Payload)
	require.NoError(t, err)
	refs, err := wire.DecodeNamedRefList(plaintext)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "alice", refs[0].Name)
	assert.Equal(t, client.userUUID, refs[0].UUID)
}

func TestPeerHandshakeAndMessageRelay(t *testing.T) {
	_, dial := testBroker(t)

	alice := connectAndHandshake(t, dial)
	alice.register(t, "alice", "p1")
	bob := connectAndHandshake(t, dial)
	bob.register(t, "bob", "p1")

	var bobReceived chan *wire.Packet = make(chan *wire.Packet, 4)
	bobListener, err := notify.Listen("127.0.0.1:0", func(pkt *wire.Packet) { bobReceived <- pkt })
	require.NoError(t, err)
	defer bobListener.Close()
	bob.registerNotificationPort(t, bobListener.Port())

	// alice joins bob's (direct-message) channel so she may message him.
	sealedChan, err := crypto.SealSession(alice.sessionKey, []byte(bob.userUUID))
	require.NoError(t, err)
	require.NoError(t, alice.conn.Send(&wire.Packet{Type: wire.JoinChannelRequest, Payload: sealedChan}))
	joinResp, err := alice.conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.JoinChannelSuccess, joinResp.Type)

	// Phase 1: alice asks for bob's public key.
	require.NoError(t, alice.conn.Send(&wire.Packet{Type: wire.ClientToClientHandshake, Payload: []byte(bob.userUUID)}))
	phase1Resp, err := alice.conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.ClientPublicKey, phase1Resp.Type)
	assert.Equal(t, bob.identity.Public(), phase1Resp.Payload)

	// Phase 2: alice generates K_AB, encrypts to bob's public key.
	peerKey, err := crypto.GenerateSymmetricKey()
	require.NoError(t, err)
	encryptedPeerKey, err := crypto.AsymEncrypt(phase1Resp.Payload, peerKey)
	require.NoError(t, err)
	phase2Payload := wire.EncodePeerHandshake(bob.userUUID, encryptedPeerKey)
	require.NoError(t, alice.conn.Send(&wire.Packet{Type: wire.ClientToClientHandshake2, Payload: phase2Payload}))

	echoResp, err := alice.conn.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.HandshakeNotification, echoResp.Type)
	echoUUID, _, err := wire.DecodePeerHandshake(echoResp.Payload)
	require.NoError(t, err)
	assert.Equal(t, alice.userUUID, echoUUID)

	var pushed *wire.Packet
	select {
	case pushed = <-bobReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received HANDSHAKE_NOTIFICATION")
	}
	require.Equal(t, wire.HandshakeNotification, pushed.Type)
	notifUUID, notifEncKey, err := wire.DecodePeerHandshake(pushed.Payload)
	require.NoError(t, err)
	assert.Equal(t, alice.userUUID, notifUUID)

	decryptedPeerKey, err := crypto.AsymDecrypt(bob.identity.Private(), notifEncKey)
	require.NoError(t, err)
	assert.Equal(t, peerKey, decryptedPeerKey)

	// Now alice sends a message to bob over the established peer key.
	ciphertext, err := crypto.SealMessage(peerKey, []byte("hi"))
	require.NoError(t, err)
	msg := &models.Message{
		SenderUUID:  alice.userUUID,
		ChannelUUID: bob.userUUID,
		Ciphertext:  ciphertext,
		Kind:        models.KindText,
	}
	require.NoError(t, wire.SignMessage(msg, alice.identity.DilithiumPrivate))
	encoded, err := wire.EncodeMessage(msg)
	require.NoError(t, err)
	require.NoError(t, alice.conn.Send(&wire.Packet{Type: wire.MessageRequest, Payload: encoded}))

	successResp, err := alice.conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.MessageSuccess, successResp.Type)

	select {
	case pushed = <-bobReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received MESSAGE_NOTIFICATION")
	}
	require.Equal(t, wire.MessageNotification, pushed.Type)
	relayedMsg, err := wire.DecodeMessage(pushed.Payload)
	require.NoError(t, err)
	plaintext, err := crypto.OpenMessage(peerKey, relayedMsg.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(plaintext))
}

func TestMessageWithTamperedSignatureIsRejected(t *testing.T) {
	_, dial := testBroker(t)

	alice := connectAndHandshake(t, dial)
	alice.register(t, "alice", "p1")
	bob := connectAndHandshake(t, dial)
	bob.register(t, "bob", "p1")

	sealedChan, err := crypto.SealSession(alice.sessionKey, []byte(bob.userUUID))
	require.NoError(t, err)
	require.NoError(t, alice.conn.Send(&wire.Packet{Type: wire.JoinChannelRequest, Payload: sealedChan}))
	_, err = alice.conn.Recv()
	require.NoError(t, err)

	peerKey, err := crypto.GenerateSymmetricKey()
	require.NoError(t, err)
	ciphertext, err := crypto.SealMessage(peerKey, []byte("hi"))
	require.NoError(t, err)
	msg := &models.Message{
		SenderUUID:  alice.userUUID,
		ChannelUUID: bob.userUUID,
		Ciphertext:  ciphertext,
		Kind:        models.KindText,
	}
	require.NoError(t, wire.SignMessage(msg, alice.identity.DilithiumPrivate))
	msg.Signature[0] ^= 0xFF // tamper

	encoded, err := wire.EncodeMessage(msg)
	require.NoError(t, err)
	require.NoError(t, alice.conn.Send(&wire.Packet{Type: wire.MessageRequest, Payload: encoded}))

	resp, err := alice.conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.MessageError, resp.Type)
}

func TestUnauthenticatedRequestIsDroppedNotCrashed(t *testing.T) {
	_, dial := testBroker(t)
	conn, closeFn := dial()
	defer closeFn()

	require.NoError(t, conn.Send(&wire.Packet{Type: wire.ChannelFetchRequest}))
	// No response is expected; send a handshake afterwards to prove the
	// connection (and broker) are still alive.
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	require.NoError(t, conn.Send(&wire.Packet{Type: wire.HandshakeRequest, Payload: identity.Public()}))
	resp, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.HandshakeResponse, resp.Type)
}
