/*
Package wire implements the framed binary protocol between clients and the
broker: the length-prefixed packet codec, the closed packet-type
enumeration, and the Message envelope's wire encoding.

FRAMING: every unit on the wire is a four-byte little-endian length prefix
(covering the type tag plus payload) followed by a four-byte little-endian
type tag and the payload bytes, mirroring the length-prefixed framing used
elsewhere in the retrieved pool's TCP peer code. Reassembly uses io.ReadFull
against the declared length so a receiver never has to guess frame
boundaries from a partial read.
*/
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// PacketType is the closed enumeration of wire packet types (spec §4.2).
type PacketType uint32

const (
	HandshakeRequest PacketType = iota + 1
	HandshakeResponse

	LoginRequest
	RegisterRequest
	LoginResponse
	RegisterResponse
	LoginError
	RegisterError

	LogoutRequest
	LogoutResponse

	NotificationPort
	NotificationPortResponse

	ChannelFetchRequest
	ChannelFetchResponse

	JoinChannelRequest
	JoinChannelSuccess
	JoinChannelError

	UserSearchRequest
	UserSearchResponse

	UsernameRequest
	UsernameResponse

	ClientToClientHandshake
	ClientPublicKey
	ClientToClientHandshake2
	HandshakeNotification

	MessageRequest
	MessageNotification
	MessageSuccess
	MessageError

	// MessageSyncRequest, MessageSyncResponse and MessageSync are reserved
	// for offline delivery on reconnect (spec §9 open question). The
	// broker's dispatcher rejects them: it logs a reserved-packet-type
	// error and sends no reply, since offline delivery beyond the keychain
	// is a non-goal.
	MessageSyncRequest
	MessageSyncResponse
	MessageSync
)

var packetTypeNames = map[PacketType]string{
	HandshakeRequest:         "HANDSHAKE_REQUEST",
	HandshakeResponse:        "HANDSHAKE_RESPONSE",
	LoginRequest:             "LOGIN_REQUEST",
	RegisterRequest:          "REGISTER_REQUEST",
	LoginResponse:            "LOGIN_RESPONSE",
	RegisterResponse:         "REGISTER_RESPONSE",
	LoginError:               "LOGIN_ERROR",
	RegisterError:            "REGISTER_ERROR",
	LogoutRequest:            "LOGOUT_REQUEST",
	LogoutResponse:           "LOGOUT_RESPONSE",
	NotificationPort:         "NOTIFICATION_PORT",
	NotificationPortResponse: "NOTIFICATION_PORT_RESPONSE",
	ChannelFetchRequest:      "CHANNEL_FETCH_REQUEST",
	ChannelFetchResponse:     "CHANNEL_FETCH_RESPONSE",
	JoinChannelRequest:       "JOIN_CHANNEL_REQUEST",
	JoinChannelSuccess:       "JOIN_CHANNEL_SUCCESS",
	JoinChannelError:         "JOIN_CHANNEL_ERROR",
	UserSearchRequest:        "USER_SEARCH_REQUEST",
	UserSearchResponse:       "USER_SEARCH_RESPONSE",
	UsernameRequest:          "USERNAME_REQUEST",
	UsernameResponse:         "USERNAME_RESPONSE",
	ClientToClientHandshake:  "CLIENT_TO_CLIENT_HANDSHAKE",
	ClientPublicKey:          "CLIENT_PUBLIC_KEY",
	ClientToClientHandshake2: "CLIENT_TO_CLIENT_HANDSHAKE2",
	HandshakeNotification:    "HANDSHAKE_NOTIFICATION",
	MessageRequest:           "MESSAGE_REQUEST",
	MessageNotification:      "MESSAGE_NOTIFICATION",
	MessageSuccess:           "MESSAGE_SUCCESS",
	MessageError:             "MESSAGE_ERROR",
	MessageSyncRequest:       "MESSAGE_SYNC_REQUEST",
	MessageSyncResponse:      "MESSAGE_SYNC_RESPONSE",
	MessageSync:              "MESSAGE_SYNC",
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

// MaxFrameSize bounds a single packet's type+payload size. It must hold the
// largest legitimate payload — a concatenated Kyber1024+Dilithium3 identity
// public key (3520 bytes) plus AEAD/KEM overhead — with headroom for
// encoded user/channel lists.
const MaxFrameSize = 32 * 1024

// headerSize is the four-byte length prefix.
const headerSize = 4

// typeSize is the four-byte type tag inside the framed region.
const typeSize = 4

// Packet is one decoded protocol unit.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// WriteFrame serializes and writes a packet to w. Deadlines, if any, are
// the caller's responsibility (set on the underlying net.Conn).
func WriteFrame(w io.Writer, pkt *Packet) error {
	total := typeSize + len(pkt.Payload)
	if total > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes exceeds max %d", total, MaxFrameSize)
	}
	buf := make([]byte, headerSize+total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(pkt.Type))
	copy(buf[8:], pkt.Payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one packet from r.
func ReadFrame(r io.Reader) (*Packet, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(header)
	if total < typeSize {
		return nil, fmt.Errorf("wire: frame shorter than type tag: %d bytes", total)
	}
	if total > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame too large: %d bytes exceeds max %d", total, MaxFrameSize)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}

	return &Packet{
		Type:    PacketType(binary.LittleEndian.Uint32(body[:4])),
		Payload: body[4:],
	}, nil
}

// Conn wraps a net.Conn with the framed packet codec and per-operation
// deadlines, one per connection goroutine (spec §5 concurrency model).
type Conn struct {
	nc      net.Conn
	timeout time.Duration
}

// NewConn wraps nc. A zero timeout disables read/write deadlines.
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{nc: nc, timeout: timeout}
}

// Send writes one packet, applying the connection's write deadline.
func (c *Conn) Send(pkt *Packet) error {
	if c.timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("wire: set write deadline: %w", err)
		}
	}
	return WriteFrame(c.nc, pkt)
}

// Recv reads one packet, applying the connection's read deadline.
func (c *Conn) Recv() (*Packet, error) {
	if c.timeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("wire: set read deadline: %w", err)
		}
	}
	return ReadFrame(c.nc)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
