// Package models defines the persistent and in-memory record types shared
// by the persistence engine, the broker, and the client core.
package models

import (
	"math"
	"time"
)

// Kind distinguishes a Message's payload interpretation.
type Kind int

const (
	// KindText is a plaintext (post-decryption) chat message.
	KindText Kind = iota
	// KindFile is a file-transfer envelope. Server-side persistence of the
	// referenced file is out of scope; only the envelope is relayed.
	KindFile
)

// String renders a Kind the way log lines and the admin console expect.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// MaxCiphertextSize is the largest ciphertext a Message envelope may carry.
// wire.EncodeMessage rejects larger payloads at envelope construction, and
// wire.DecodeMessage applies the same bound on receipt.
const MaxCiphertextSize = 500

// User is the persistent record for a registered account.
//
// password_hash = KDF(password, salt) using internal/crypto's Argon2id
// substitute for the plain salted hash (see DESIGN.md).
type User struct {
	UUID             string
	Username         string
	PasswordHash     []byte
	PasswordSalt     []byte
	IsAuthenticated  bool
	LastAuthTime     time.Time
	CreatedAt        time.Time
	ProfilePictureID string // empty when unset
}

// Channel is the persistent, cacheable record for a named destination.
// Direct-message channels have a UUID equal to the recipient user's UUID
// and a Name equal to that user's username.
type Channel struct {
	UUID            string
	Name            string
	Description     string
	CreatedAt       time.Time
	RequestCount    int64
	LastRequestTime time.Time
	Subscribers     map[string]struct{} // user_uuid set
}

// relevance formula constants (spec §3).
const (
	relevanceDelta = 0.0001
	relevanceRho   = 0.1
)

// Relevance computes the channel's time-decayed cache priority as of now.
//
//	decay     = (1 - delta) ^ (deltaT / rho)
//	relevance = 0.5*|subscribers| + 0.3*request_count + 0.2*decay
func (c *Channel) Relevance(now time.Time) float64 {
	deltaT := now.Sub(c.LastRequestTime).Seconds()
	if deltaT < 0 {
		deltaT = 0
	}
	decay := math.Pow(1-relevanceDelta, deltaT/relevanceRho)
	return 0.5*float64(len(c.Subscribers)) + 0.3*float64(c.RequestCount) + 0.2*decay
}

// HasSubscriber reports whether user is a member of the channel.
func (c *Channel) HasSubscriber(userUUID string) bool {
	_, ok := c.Subscribers[userUUID]
	return ok
}

// Message is the envelope transported between clients through the broker.
// The broker never decrypts Ciphertext; it checks SenderUUID and
// ChannelUUID against the session and channel, verifies Signature over
// H(Ciphertext), and bounds the ciphertext size.
type Message struct {
	SenderUUID  string
	ChannelUUID string
	Ciphertext  []byte
	Signature   []byte
	Kind        Kind
}

// UserRef is the compact (name, uuid) pair returned by channel/user list
// queries, matching the wire's encoded-list layout.
type UserRef struct {
	Name string
	UUID string
}

// Session is the broker-side, in-memory record for one live connection.
// Fields populate as the protocol advances: a fresh session has only
// StreamID set; SessionKey appears after handshake; UserUUID/Username
// appear after login or register.
type Session struct {
	StreamID         string
	UserUUID         string
	Username         string
	SessionKey       []byte
	PeerPublicKey    []byte
	NotificationHost string
	NotificationPort int
	Subscriptions    map[string]struct{} // channel_uuid set
	LoginAttempts    int
	RegisterAttempts int
	LastLoginTime    time.Time
	LastRegisterTime time.Time
}

// NewSession creates an empty session for a freshly accepted connection.
func NewSession(streamID string) *Session {
	return &Session{
		StreamID:      streamID,
		Subscriptions: make(map[string]struct{}),
	}
}

// IsAuthenticated reports whether login or registration has completed.
func (s *Session) IsAuthenticated() bool {
	return s.UserUUID != ""
}

// HasSessionKey reports whether the handshake has established a key.
func (s *Session) HasSessionKey() bool {
	return len(s.SessionKey) > 0
}

// HasNotificationEndpoint reports whether the client registered a push
// target via NOTIFICATION_PORT.
func (s *Session) HasNotificationEndpoint() bool {
	return s.NotificationPort != 0
}

// KeychainEntry is one (peer, key) pair inside a client's on-disk keychain.
type KeychainEntry struct {
	PeerUUID     string
	SymmetricKey []byte
}
