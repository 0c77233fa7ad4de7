package broker

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/models"
	"github.com/kindlyrobotics/iplchat/internal/store"
	"github.com/kindlyrobotics/iplchat/internal/wire"
)

// searchDepth is the default USER_SEARCH_REQUEST result cap (spec §4.5).
const searchDepth = 3

// dispatch enforces the precondition table and routes pkt to its handler
// (spec §4.6). Precondition failures answer with the paired error packet
// if one exists, otherwise are logged at WARNING and dropped (spec §7).
func (b *Broker) dispatch(sess *models.Session, remoteHost string, conn *wire.Conn, pkt *wire.Packet) {
	switch pkt.Type {
	case wire.HandshakeRequest:
		b.handleHandshake(sess, conn, pkt)

	case wire.LoginRequest:
		b.handleLoginOrRegister(sess, conn, pkt, false)
	case wire.RegisterRequest:
		b.handleLoginOrRegister(sess, conn, pkt, true)

	case wire.LogoutRequest:
		b.handleLogout(sess, conn)

	case wire.NotificationPort:
		b.handleNotificationPort(sess, remoteHost, conn, pkt)

	case wire.ChannelFetchRequest:
		b.handleChannelFetch(sess, conn)

	case wire.JoinChannelRequest:
		b.handleJoinChannel(sess, conn, pkt)

	case wire.UserSearchRequest:
		b.handleUserSearch(sess, conn, pkt)

	case wire.UsernameRequest:
		b.handleUsernameLookup(sess, conn, pkt)

	case wire.ClientToClientHandshake:
		b.handlePeerHandshakePhase1(sess, conn, pkt)
	case wire.ClientToClientHandshake2:
		b.handlePeerHandshakePhase2(sess, conn, pkt)

	case wire.MessageRequest:
		b.handleMessage(sess, conn, pkt)

	case wire.MessageSyncRequest, wire.MessageSyncResponse, wire.MessageSync:
		b.handleError("reserved packet type", fmt.Errorf("%w: %s", ErrReservedPacketType, pkt.Type))

	default:
		b.handleError("dispatch", fmt.Errorf("unhandled packet type %s on stream %s", pkt.Type, sess.StreamID))
	}
}

func (b *Broker) send(conn *wire.Conn, t wire.PacketType, payload []byte) {
	if err := conn.Send(&wire.Packet{Type: t, Payload: payload}); err != nil {
		b.log.Warnf("send %s: %v", t, err)
	}
}

// requireSessionKey reports whether sess has completed the handshake,
// logging and returning false otherwise (spec §4.6's "Any AEAD-carrying
// request" precondition).
func (b *Broker) requireSessionKey(sess *models.Session) bool {
	if !sess.HasSessionKey() {
		b.handleError("precondition", fmt.Errorf("stream %s: %w", sess.StreamID, ErrNoSessionKey))
		return false
	}
	return true
}

// requireAuthenticated reports whether sess is authenticated, logging and
// returning false otherwise.
func (b *Broker) requireAuthenticated(sess *models.Session) bool {
	if !b.requireSessionKey(sess) {
		return false
	}
	if !sess.IsAuthenticated() {
		b.handleError("precondition", fmt.Errorf("stream %s: %w", sess.StreamID, ErrNotAuthenticated))
		return false
	}
	return true
}

// --- HANDSHAKE_REQUEST -----------------------------------------------------

func (b *Broker) handleHandshake(sess *models.Session, conn *wire.Conn, pkt *wire.Packet) {
	if sess.HasSessionKey() {
		b.handleError("handshake", fmt.Errorf("stream %s: %w", sess.StreamID, ErrSessionExists))
		return
	}
	if len(pkt.Payload) != crypto.IdentityPublicKeySize {
		b.handleError("handshake", fmt.Errorf("stream %s: %w: bad public key size", sess.StreamID, ErrMalformedPayload))
		return
	}

	sessionKey, err := crypto.GenerateSymmetricKey()
	if err != nil {
		b.handleError("handshake", fmt.Errorf("generate session key: %w", err))
		return
	}

	encrypted, err := crypto.AsymEncrypt(pkt.Payload, sessionKey)
	if err != nil {
		b.handleError("handshake", fmt.Errorf("encrypt session key to peer: %w", err))
		return
	}

	sess.SessionKey = sessionKey
	sess.PeerPublicKey = append([]byte(nil), pkt.Payload...)

	b.send(conn, wire.HandshakeResponse, encrypted)
}

// --- LOGIN_REQUEST / REGISTER_REQUEST --------------------------------------

func (b *Broker) handleLoginOrRegister(sess *models.Session, conn *wire.Conn, pkt *wire.Packet, register bool) {
	errType := wire.LoginError
	okType := wire.LoginResponse
	if register {
		errType, okType = wire.RegisterError, wire.RegisterResponse
	}

	if !b.requireSessionKey(sess) || sess.IsAuthenticated() {
		if sess.HasSessionKey() {
			b.send(conn, errType, nil)
		}
		return
	}

	plaintext, err := crypto.OpenSession(sess.SessionKey, pkt.Payload)
	if err != nil {
		b.handleError("auth decrypt", err)
		b.send(conn, errType, nil)
		return
	}
	username, password, err := wire.DecodeCredentials(plaintext)
	if err != nil {
		b.handleError("auth decode", err)
		b.send(conn, errType, nil)
		return
	}

	var userUUID string
	if register {
		userUUID, err = b.store.RegisterClient(username, password)
	} else {
		userUUID, err = b.store.Login(username, password)
	}
	if err != nil {
		b.handleError("auth", fmt.Errorf("%s: %w", username, err))
		b.send(conn, errType, nil)
		return
	}

	if register {
		if err := b.store.CreateChannelIfAbsent(userUUID, username); err != nil {
			b.handleError("auto-create direct-message channel", err)
		}
		b.log.Infof("registered %s (%s) fingerprint=%s", username, userUUID, crypto.Fingerprint(sess.PeerPublicKey))
	}

	sess.UserUUID = userUUID
	sess.Username = username

	sealed, err := crypto.SealSession(sess.SessionKey, []byte(userUUID))
	if err != nil {
		b.handleError("auth response seal", err)
		b.send(conn, errType, nil)
		return
	}
	b.send(conn, okType, sealed)
}

// --- LOGOUT_REQUEST ---------------------------------------------------------

func (b *Broker) handleLogout(sess *models.Session, conn *wire.Conn) {
	if sess.IsAuthenticated() {
		if err := b.store.Deauthenticate(sess.UserUUID); err != nil {
			b.handleError("logout", err)
		}
	}
	sess.UserUUID = ""
	sess.Username = ""
	b.send(conn, wire.LogoutResponse, nil)
}

// --- NOTIFICATION_PORT -------------------------------------------------------

func (b *Broker) handleNotificationPort(sess *models.Session, remoteHost string, conn *wire.Conn, pkt *wire.Packet) {
	if !b.requireAuthenticated(sess) {
		return
	}
	if len(pkt.Payload) != 4 {
		b.handleError("notification port", fmt.Errorf("stream %s: %w", sess.StreamID, ErrMalformedPayload))
		return
	}
	port := int32(binary.LittleEndian.Uint32(pkt.Payload))
	sess.NotificationHost = remoteHost
	sess.NotificationPort = int(port)
	b.send(conn, wire.NotificationPortResponse, nil)
}

// --- CHANNEL_FETCH_REQUEST ---------------------------------------------------

func (b *Broker) handleChannelFetch(sess *models.Session, conn *wire.Conn) {
	if !b.requireAuthenticated(sess) {
		return
	}
	channels, err := b.store.SubscribedChannels(sess.UserUUID)
	if err != nil {
		b.handleError("channel fetch", err)
		return
	}

	refs := make([]wire.NamedRef, 0, len(channels))
	for _, ch := range channels {
		refs = append(refs, wire.NamedRef{Name: ch.Name, UUID: ch.UUID})
	}
	sealed, err := crypto.SealSession(sess.SessionKey, wire.EncodeNamedRefList(refs))
	if err != nil {
		b.handleError("channel fetch seal", err)
		return
	}
	b.send(conn, wire.ChannelFetchResponse, sealed)
}

// --- JOIN_CHANNEL_REQUEST ----------------------------------------------------

func (b *Broker) handleJoinChannel(sess *models.Session, conn *wire.Conn, pkt *wire.Packet) {
	if !b.requireAuthenticated(sess) {
		return
	}
	channelUUID, err := crypto.OpenSession(sess.SessionKey, pkt.Payload)
	if err != nil {
		b.handleError("join channel decrypt", err)
		b.send(conn, wire.JoinChannelError, nil)
		return
	}

	if err := b.store.JoinChannel(sess.UserUUID, string(channelUUID)); err != nil {
		b.handleError("join channel", err)
		b.send(conn, wire.JoinChannelError, nil)
		return
	}
	sess.Subscriptions[string(channelUUID)] = struct{}{}
	b.send(conn, wire.JoinChannelSuccess, nil)
}

// --- USER_SEARCH_REQUEST -----------------------------------------------------

func (b *Broker) handleUserSearch(sess *models.Session, conn *wire.Conn, pkt *wire.Packet) {
	if !b.requireAuthenticated(sess) {
		return
	}
	pattern, err := crypto.OpenSession(sess.SessionKey, pkt.Payload)
	if err != nil {
		b.handleError("user search decrypt", err)
		return
	}

	refs, err := b.store.SearchUsers(sess.Username, string(pattern), searchDepth)
	if err != nil {
		b.handleError("user search", err)
		return
	}

	named := make([]wire.NamedRef, 0, len(refs))
	for _, r := range refs {
		named = append(named, wire.NamedRef{Name: r.Name, UUID: r.UUID})
	}
	sealed, err := crypto.SealSession(sess.SessionKey, wire.EncodeNamedRefList(named))
	if err != nil {
		b.handleError("user search seal", err)
		return
	}
	b.send(conn, wire.UserSearchResponse, sealed)
}

// --- USERNAME_REQUEST ---------------------------------------------------------

func (b *Broker) handleUsernameLookup(sess *models.Session, conn *wire.Conn, pkt *wire.Packet) {
	if !b.requireAuthenticated(sess) {
		return
	}
	targetUUID, err := crypto.OpenSession(sess.SessionKey, pkt.Payload)
	if err != nil {
		b.handleError("username lookup decrypt", err)
		return
	}

	username, err := b.store.GetUsername(string(targetUUID))
	if err != nil {
		b.handleError("username lookup", err)
		return
	}

	sealed, err := crypto.SealSession(sess.SessionKey, []byte(username))
	if err != nil {
		b.handleError("username lookup seal", err)
		return
	}
	b.send(conn, wire.UsernameResponse, sealed)
}

// --- Two-phase client-to-client key exchange ---------------------------------

func (b *Broker) handlePeerHandshakePhase1(sess *models.Session, conn *wire.Conn, pkt *wire.Packet) {
	if !b.requireAuthenticated(sess) {
		return
	}
	targetUUID := string(pkt.Payload)

	targetStreamID, ok := b.registry.FindByUUID(targetUUID)
	if !ok {
		b.handleError("peer handshake phase 1", fmt.Errorf("%w: %s", ErrTargetOffline, targetUUID))
		return
	}
	targetSess, ok := b.registry.Get(targetStreamID)
	if !ok {
		b.handleError("peer handshake phase 1", fmt.Errorf("%w: %s", ErrTargetOffline, targetUUID))
		return
	}

	b.send(conn, wire.ClientPublicKey, targetSess.PeerPublicKey)
}

func (b *Broker) handlePeerHandshakePhase2(sess *models.Session, conn *wire.Conn, pkt *wire.Packet) {
	if !b.requireAuthenticated(sess) {
		return
	}
	targetUUID, encryptedKey, err := wire.DecodePeerHandshake(pkt.Payload)
	if err != nil {
		b.handleError("peer handshake phase 2 decode", err)
		return
	}

	relayed := wire.EncodePeerHandshake(sess.UserUUID, encryptedKey)

	targetStreamID, ok := b.registry.FindByUUID(targetUUID)
	if !ok {
		b.handleError("peer handshake phase 2", fmt.Errorf("%w: %s", ErrTargetOffline, targetUUID))
		return
	}
	targetSess, ok := b.registry.Get(targetStreamID)
	if !ok || !targetSess.HasNotificationEndpoint() {
		b.handleError("peer handshake phase 2", fmt.Errorf("%w: %s", ErrTargetOffline, targetUUID))
		return
	}

	b.pusher.Push(targetSess.NotificationHost, targetSess.NotificationPort, &wire.Packet{
		Type:    wire.HandshakeNotification,
		Payload: relayed,
	})
	b.send(conn, wire.HandshakeNotification, relayed)
}

// --- MESSAGE_REQUEST -----------------------------------------------------------

func (b *Broker) handleMessage(sess *models.Session, conn *wire.Conn, pkt *wire.Packet) {
	if !b.requireAuthenticated(sess) {
		return
	}
	msg, err := wire.DecodeMessage(pkt.Payload)
	if err != nil {
		b.handleError("message decode", err)
		b.send(conn, wire.MessageError, nil)
		return
	}

	if err := b.checkMessagePreconditions(sess, msg); err != nil {
		b.handleError("message precondition", err)
		b.send(conn, wire.MessageError, nil)
		return
	}

	b.store.EnqueueMessage(msg)

	targetStreamID, ok := b.registry.FindByUUID(msg.ChannelUUID)
	if !ok {
		b.send(conn, wire.MessageError, nil)
		return
	}
	targetSess, ok := b.registry.Get(targetStreamID)
	if !ok || !targetSess.HasNotificationEndpoint() {
		b.send(conn, wire.MessageError, nil)
		return
	}

	encoded, err := wire.EncodeMessage(msg)
	if err != nil {
		b.handleError("message re-encode for push", err)
		b.send(conn, wire.MessageError, nil)
		return
	}
	b.pusher.Push(targetSess.NotificationHost, targetSess.NotificationPort, &wire.Packet{
		Type:    wire.MessageNotification,
		Payload: encoded,
	})
	b.send(conn, wire.MessageSuccess, nil)
}

// checkMessagePreconditions enforces the MESSAGE_REQUEST row of the
// precondition table (spec §4.6): sender matches session, the channel
// exists, the sender subscribes to it, and the signature verifies under
// the sender's own public key (held in session.PeerPublicKey since the
// handshake established it as this connection's identity).
func (b *Broker) checkMessagePreconditions(sess *models.Session, msg *models.Message) error {
	if msg.SenderUUID != sess.UserUUID {
		return fmt.Errorf("%w: got %s want %s", ErrSenderMismatch, msg.SenderUUID, sess.UserUUID)
	}

	ch, err := b.store.GetChannel(msg.ChannelUUID)
	if err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			return fmt.Errorf("channel %s: %w", msg.ChannelUUID, err)
		}
		return err
	}
	if !ch.HasSubscriber(sess.UserUUID) {
		return fmt.Errorf("%w: %s not in %s", ErrNotSubscriber, sess.UserUUID, msg.ChannelUUID)
	}

	_, dilithiumPub, err := crypto.SplitIdentityPublicKey(sess.PeerPublicKey)
	if err != nil {
		return fmt.Errorf("message precondition: %w", err)
	}
	ok, err := wire.VerifyMessage(msg, dilithiumPub)
	if err != nil {
		return fmt.Errorf("message precondition: verify: %w", err)
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}
