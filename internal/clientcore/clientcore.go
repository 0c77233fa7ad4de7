// Package clientcore implements the client core (spec §9 design note,
// SPEC_FULL §4.9): a GUI-agnostic object composing one connection, one
// keychain, and one notification listener, constructed explicitly at
// login/register time rather than as package globals. Any front-end (GUI,
// console, test harness) drives it and subscribes to its event callbacks.
package clientcore

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/keychain"
	"github.com/kindlyrobotics/iplchat/internal/logging"
	"github.com/kindlyrobotics/iplchat/internal/models"
	"github.com/kindlyrobotics/iplchat/internal/notify"
	"github.com/kindlyrobotics/iplchat/internal/wire"
)

// ConnState is reported through OnConnectionState.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateHandshaking
	StateAuthenticated
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Channel mirrors models.Channel's wire-visible fields for callers outside
// internal/store.
type Channel struct {
	UUID string
	Name string
}

// UserRef is a (name, uuid) pair, as returned by SearchUsers.
type UserRef struct {
	Name string
	UUID string
}

// Envelope is a received chat message, already decrypted under the
// relevant peer key.
type Envelope struct {
	SenderUUID  string
	ChannelUUID string
	Plaintext   []byte
	Kind        models.Kind
}

// Client owns one broker connection, one keychain, and one notification
// listener (spec §9 design note). Zero value is not usable; construct
// with New.
type Client struct {
	identity   *crypto.KeyPair
	keychain   *keychain.Keychain
	keychainDir string

	conn       *wire.Conn
	sessionKey []byte
	userUUID   string
	username   string

	listener *notify.Listener

	mu           sync.Mutex
	onMessage    func(Envelope)
	onPeerJoined func(peerUUID string)
	onConnState  func(ConnState)
}

// New returns a Client using identity as its long-term Kyber+Dilithium
// identity and dir as the keychain directory.
func New(identity *crypto.KeyPair, keychainDir string) *Client {
	return &Client{identity: identity, keychainDir: keychainDir}
}

// OnMessage registers the callback invoked for every decrypted inbound
// chat message.
func (c *Client) OnMessage(fn func(Envelope)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnPeerJoined registers the callback invoked when a peer completes the
// two-phase key exchange with this client.
func (c *Client) OnPeerJoined(fn func(peerUUID string)) {
	c.mu.Lock()
	c.onPeerJoined = fn
	c.mu.Unlock()
}

// OnConnectionState registers the callback invoked on connection state
// transitions.
func (c *Client) OnConnectionState(fn func(ConnState)) {
	c.mu.Lock()
	c.onConnState = fn
	c.mu.Unlock()
}

func (c *Client) emitState(s ConnState) {
	c.mu.Lock()
	fn := c.onConnState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Connect dials addr and performs the handshake, establishing the session
// key. ctx governs only the dial; the connection is created without
// read/write deadlines, so the handshake round-trip waits until the broker
// replies or the connection fails.
func (c *Client) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("clientcore: dial %s: %w", addr, err)
	}
	c.conn = wire.NewConn(nc, 0)
	c.emitState(StateHandshaking)

	if err := c.conn.Send(&wire.Packet{Type: wire.HandshakeRequest, Payload: c.identity.Public()}); err != nil {
		return fmt.Errorf("clientcore: send handshake: %w", err)
	}
	resp, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("clientcore: recv handshake response: %w", err)
	}
	if resp.Type != wire.HandshakeResponse {
		return fmt.Errorf("clientcore: expected HANDSHAKE_RESPONSE, got %s", resp.Type)
	}

	sessionKey, err := crypto.AsymDecrypt(c.identity.Private(), resp.Payload)
	if err != nil {
		return fmt.Errorf("clientcore: decrypt session key: %w", err)
	}
	c.sessionKey = sessionKey
	return nil
}

// Register creates an account and logs in as it, initializing a fresh
// keychain for the new owner uuid.
func (c *Client) Register(username, password string) error {
	return c.authenticate(username, password, wire.RegisterRequest, wire.RegisterResponse, wire.RegisterError)
}

// Login authenticates an existing account.
func (c *Client) Login(username, password string) error {
	if err := c.authenticate(username, password, wire.LoginRequest, wire.LoginResponse, wire.LoginError); err != nil {
		return err
	}
	return nil
}

func (c *Client) authenticate(username, password string, reqType, okType, errType wire.PacketType) error {
	creds, err := wire.EncodeCredentials(username, password)
	if err != nil {
		return fmt.Errorf("clientcore: encode credentials: %w", err)
	}
	sealed, err := crypto.SealSession(c.sessionKey, creds)
	if err != nil {
		return fmt.Errorf("clientcore: seal credentials: %w", err)
	}
	if err := c.conn.Send(&wire.Packet{Type: reqType, Payload: sealed}); err != nil {
		return fmt.Errorf("clientcore: send %s: %w", reqType, err)
	}

	resp, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("clientcore: recv %s response: %w", reqType, err)
	}
	if resp.Type == errType {
		return fmt.Errorf("clientcore: %s rejected", reqType)
	}
	if resp.Type != okType {
		return fmt.Errorf("clientcore: expected %s, got %s", okType, resp.Type)
	}

	plaintext, err := crypto.OpenSession(c.sessionKey, resp.Payload)
	if err != nil {
		return fmt.Errorf("clientcore: decrypt %s response: %w", reqType, err)
	}

	c.userUUID = string(plaintext)
	c.username = username

	kc, ok := keychain.Load(c.keychainDir, c.userUUID, password)
	if !ok {
		return fmt.Errorf("clientcore: keychain load failed for %s", c.userUUID)
	}
	c.keychain = kc

	c.emitState(StateAuthenticated)
	return nil
}

// Username returns the authenticated client's own username.
func (c *Client) Username() string {
	return c.username
}

// StartNotificationListener opens the local endpoint the broker pushes
// MESSAGE_NOTIFICATION and HANDSHAKE_NOTIFICATION to, and registers it
// with the broker via NOTIFICATION_PORT.
func (c *Client) StartNotificationListener(addr string) error {
	l, err := notify.Listen(addr, c.handlePush)
	if err != nil {
		return fmt.Errorf("clientcore: start notification listener: %w", err)
	}
	c.listener = l

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(l.Port()))
	if err := c.conn.Send(&wire.Packet{Type: wire.NotificationPort, Payload: payload}); err != nil {
		return fmt.Errorf("clientcore: send notification port: %w", err)
	}
	resp, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("clientcore: recv notification port response: %w", err)
	}
	if resp.Type != wire.NotificationPortResponse {
		return fmt.Errorf("clientcore: expected NOTIFICATION_PORT_RESPONSE, got %s", resp.Type)
	}
	return nil
}

func (c *Client) handlePush(pkt *wire.Packet) {
	switch pkt.Type {
	case wire.HandshakeNotification:
		c.handleHandshakeNotification(pkt)
	case wire.MessageNotification:
		c.handleMessageNotification(pkt)
	}
}

func (c *Client) handleHandshakeNotification(pkt *wire.Packet) {
	peerUUID, encryptedKey, err := wire.DecodePeerHandshake(pkt.Payload)
	if err != nil {
		logging.New("Client").Warnf("decode handshake notification: %v", err)
		return
	}
	peerKey, err := crypto.AsymDecrypt(c.identity.Private(), encryptedKey)
	if err != nil {
		logging.New("Client").Warnf("decrypt peer key from %s: %v", peerUUID, err)
		return
	}
	c.keychain.Add(peerUUID, peerKey)
	if err := c.keychain.Save(); err != nil {
		logging.New("Client").Warnf("save keychain after handshake from %s: %v", peerUUID, err)
	}

	c.mu.Lock()
	fn := c.onPeerJoined
	c.mu.Unlock()
	if fn != nil {
		fn(peerUUID)
	}
}

func (c *Client) handleMessageNotification(pkt *wire.Packet) {
	msg, err := wire.DecodeMessage(pkt.Payload)
	if err != nil {
		logging.New("Client").Warnf("decode message notification: %v", err)
		return
	}
	peerKey, ok := c.keychain.Get(msg.SenderUUID)
	if !ok {
		logging.New("Client").Warnf("message from unknown peer %s: no key in keychain", msg.SenderUUID)
		return
	}
	plaintext, err := crypto.OpenMessage(peerKey, msg.Ciphertext)
	if err != nil {
		logging.New("Client").Warnf("decrypt message from %s: %v", msg.SenderUUID, err)
		return
	}

	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(Envelope{SenderUUID: msg.SenderUUID, ChannelUUID: msg.ChannelUUID, Plaintext: plaintext, Kind: msg.Kind})
	}
}

// FetchChannels returns the caller's subscribed channels.
func (c *Client) FetchChannels() ([]Channel, error) {
	if err := c.conn.Send(&wire.Packet{Type: wire.ChannelFetchRequest}); err != nil {
		return nil, fmt.Errorf("clientcore: send channel fetch: %w", err)
	}
	resp, err := c.conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("clientcore: recv channel fetch response: %w", err)
	}
	if resp.Type != wire.ChannelFetchResponse {
		return nil, fmt.Errorf("clientcore: expected CHANNEL_FETCH_RESPONSE, got %s", resp.Type)
	}
	plaintext, err := crypto.OpenSession(c.sessionKey, resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("clientcore: decrypt channel list: %w", err)
	}
	refs, err := wire.DecodeNamedRefList(plaintext)
	if err != nil {
		return nil, fmt.Errorf("clientcore: decode channel list: %w", err)
	}
	channels := make([]Channel, 0, len(refs))
	for _, r := range refs {
		channels = append(channels, Channel{UUID: r.UUID, Name: r.Name})
	}
	return channels, nil
}

// JoinChannel subscribes the caller to channelUUID.
func (c *Client) JoinChannel(channelUUID string) error {
	sealed, err := crypto.SealSession(c.sessionKey, []byte(channelUUID))
	if err != nil {
		return fmt.Errorf("clientcore: seal join channel: %w", err)
	}
	if err := c.conn.Send(&wire.Packet{Type: wire.JoinChannelRequest, Payload: sealed}); err != nil {
		return fmt.Errorf("clientcore: send join channel: %w", err)
	}
	resp, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("clientcore: recv join channel response: %w", err)
	}
	if resp.Type != wire.JoinChannelSuccess {
		return fmt.Errorf("clientcore: join channel %s rejected", channelUUID)
	}
	return nil
}

// SearchUsers returns users matching pattern.
func (c *Client) SearchUsers(pattern string) ([]UserRef, error) {
	sealed, err := crypto.SealSession(c.sessionKey, []byte(pattern))
	if err != nil {
		return nil, fmt.Errorf("clientcore: seal search pattern: %w", err)
	}
	if err := c.conn.Send(&wire.Packet{Type: wire.UserSearchRequest, Payload: sealed}); err != nil {
		return nil, fmt.Errorf("clientcore: send user search: %w", err)
	}
	resp, err := c.conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("clientcore: recv user search response: %w", err)
	}
	if resp.Type != wire.UserSearchResponse {
		return nil, fmt.Errorf("clientcore: expected USER_SEARCH_RESPONSE, got %s", resp.Type)
	}
	plaintext, err := crypto.OpenSession(c.sessionKey, resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("clientcore: decrypt user search results: %w", err)
	}
	refs, err := wire.DecodeNamedRefList(plaintext)
	if err != nil {
		return nil, fmt.Errorf("clientcore: decode user search results: %w", err)
	}
	out := make([]UserRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, UserRef{Name: r.Name, UUID: r.UUID})
	}
	return out, nil
}

// BeginPeerExchange drives the two-phase key exchange with peerUUID and
// persists the resulting key into the keychain under peerUUID.
func (c *Client) BeginPeerExchange(peerUUID string) error {
	if err := c.conn.Send(&wire.Packet{Type: wire.ClientToClientHandshake, Payload: []byte(peerUUID)}); err != nil {
		return fmt.Errorf("clientcore: send peer handshake phase 1: %w", err)
	}
	phase1, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("clientcore: recv peer public key: %w", err)
	}
	if phase1.Type != wire.ClientPublicKey {
		return fmt.Errorf("clientcore: expected CLIENT_PUBLIC_KEY, got %s", phase1.Type)
	}

	peerKey, err := crypto.GenerateSymmetricKey()
	if err != nil {
		return fmt.Errorf("clientcore: generate peer key: %w", err)
	}
	encryptedKey, err := crypto.AsymEncrypt(phase1.Payload, peerKey)
	if err != nil {
		return fmt.Errorf("clientcore: encrypt peer key: %w", err)
	}

	phase2Payload := wire.EncodePeerHandshake(peerUUID, encryptedKey)
	if err := c.conn.Send(&wire.Packet{Type: wire.ClientToClientHandshake2, Payload: phase2Payload}); err != nil {
		return fmt.Errorf("clientcore: send peer handshake phase 2: %w", err)
	}
	echo, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("clientcore: recv peer handshake echo: %w", err)
	}
	if echo.Type != wire.HandshakeNotification {
		return fmt.Errorf("clientcore: expected HANDSHAKE_NOTIFICATION echo, got %s", echo.Type)
	}

	c.keychain.Add(peerUUID, peerKey)
	return c.keychain.Save()
}

// SendMessage looks up peerUUID's (== channelUUID's) key in the keychain,
// encrypts and signs plaintext, and sends MESSAGE_REQUEST.
func (c *Client) SendMessage(channelUUID string, plaintext []byte, kind models.Kind) error {
	peerKey, ok := c.keychain.Get(channelUUID)
	if !ok {
		return fmt.Errorf("clientcore: no peer key for %s; run BeginPeerExchange first", channelUUID)
	}
	ciphertext, err := crypto.SealMessage(peerKey, plaintext)
	if err != nil {
		return fmt.Errorf("clientcore: seal message: %w", err)
	}

	msg := &models.Message{
		SenderUUID:  c.userUUID,
		ChannelUUID: channelUUID,
		Ciphertext:  ciphertext,
		Kind:        kind,
	}
	if err := wire.SignMessage(msg, c.identity.DilithiumPrivate); err != nil {
		return fmt.Errorf("clientcore: sign message: %w", err)
	}
	encoded, err := wire.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("clientcore: encode message: %w", err)
	}

	if err := c.conn.Send(&wire.Packet{Type: wire.MessageRequest, Payload: encoded}); err != nil {
		return fmt.Errorf("clientcore: send message: %w", err)
	}
	resp, err := c.conn.Recv()
	if err != nil {
		return fmt.Errorf("clientcore: recv message response: %w", err)
	}
	if resp.Type != wire.MessageSuccess {
		return fmt.Errorf("clientcore: message to %s rejected", channelUUID)
	}
	return nil
}

// Close tears down the notification listener and the broker connection.
func (c *Client) Close() error {
	c.emitState(StateDisconnected)
	if c.listener != nil {
		c.listener.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
