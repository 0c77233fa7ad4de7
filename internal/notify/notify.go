// Package notify implements the out-of-band notification side channel
// (spec §4.7): a one-shot outbound push from the broker to a client's
// listening endpoint, and the client-side listener that reconstructs
// pushed packets and invokes a typed callback.
package notify

import (
	"fmt"
	"net"
	"time"

	"github.com/kindlyrobotics/iplchat/internal/logging"
	"github.com/kindlyrobotics/iplchat/internal/wire"
)

// dialTimeout bounds how long a push waits to connect before giving up;
// pushes are best-effort and never block the triggering request for long.
const dialTimeout = 5 * time.Second

// Pusher sends one-shot packets to clients' notification endpoints. It
// never holds a broker lock while dialing or writing (spec §5).
type Pusher struct {
	log *logging.Logger
}

// NewPusher returns a Pusher.
func NewPusher() *Pusher {
	return &Pusher{log: logging.New("Notify")}
}

// Push dials (host, port), writes pkt, and closes the connection without
// waiting for any acknowledgement. Failure is logged, never returned to
// the caller as a reason to fail the triggering request (spec §4.7).
func (p *Pusher) Push(host string, port int, pkt *wire.Packet) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		p.log.Warnf("push to %s failed to dial: %v", addr, err)
		return
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(dialTimeout)); err != nil {
		p.log.Warnf("push to %s: set deadline: %v", addr, err)
		return
	}
	if err := wire.WriteFrame(conn, pkt); err != nil {
		p.log.Warnf("push to %s failed to write: %v", addr, err)
		return
	}
}

// Listener is the client-side counterpart: it accepts the broker's one-shot
// pushes on a local port and invokes onPacket for each. Used by
// clientcore.Client to receive MESSAGE_NOTIFICATION and HANDSHAKE_NOTIFICATION
// without polling.
type Listener struct {
	ln  net.Listener
	log *logging.Logger
}

// Listen opens a TCP listener on addr (host:port, port 0 picks a free
// port) and begins accepting pushes in the background, invoking onPacket
// for each successfully reconstructed packet.
func Listen(addr string, onPacket func(*wire.Packet)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("notify: listen on %s: %w", addr, err)
	}
	l := &Listener{ln: ln, log: logging.New("Notify")}
	go l.acceptLoop(onPacket)
	return l, nil
}

// Port reports the bound TCP port, useful when addr requested port 0.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Close stops accepting further pushes.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) acceptLoop(onPacket func(*wire.Packet)) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return // listener closed
		}
		go l.handleOne(conn, onPacket)
	}
}

func (l *Listener) handleOne(conn net.Conn, onPacket func(*wire.Packet)) {
	defer conn.Close()
	pkt, err := wire.ReadFrame(conn)
	if err != nil {
		l.log.Warnf("read pushed packet from %s: %v", conn.RemoteAddr(), err)
		return
	}
	onPacket(pkt)
}
