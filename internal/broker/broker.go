// Package broker implements the request dispatcher (spec §4.6): one
// goroutine per connection decodes each packet, enforces the precondition
// table, mutates session/persistence state, and replies directly or via
// the notification pusher. The broker itself never holds message
// plaintext.
package broker

import (
	"net"

	"github.com/google/uuid"

	"github.com/kindlyrobotics/iplchat/internal/config"
	"github.com/kindlyrobotics/iplchat/internal/logging"
	"github.com/kindlyrobotics/iplchat/internal/models"
	"github.com/kindlyrobotics/iplchat/internal/notify"
	"github.com/kindlyrobotics/iplchat/internal/session"
	"github.com/kindlyrobotics/iplchat/internal/store"
	"github.com/kindlyrobotics/iplchat/internal/wire"
)

// Broker owns the session registry, the persistence engine, and the
// notification pusher, and dispatches every packet a connection receives.
type Broker struct {
	cfg      *config.Config
	registry *session.Registry
	store    *store.Engine
	pusher   *notify.Pusher
	log      *logging.Logger
}

// New returns a Broker wired to the given config, registry, and engine.
func New(cfg *config.Config, registry *session.Registry, engine *store.Engine) *Broker {
	return &Broker{
		cfg:      cfg,
		registry: registry,
		store:    engine,
		pusher:   notify.NewPusher(),
		log:      logging.New("Broker"),
	}
}

// Registry exposes the session registry, e.g. for the admin console's
// `clients` command.
func (b *Broker) Registry() *session.Registry {
	return b.registry
}

// HandleConn drives one accepted connection for its whole lifetime: frame
// reassembly, dispatch, and cleanup on disconnect. Run this as its own
// goroutine per accepted net.Conn (spec §5). A panic while handling a
// single packet is recovered and logged; it never takes the listener
// down.
func (b *Broker) HandleConn(nc net.Conn) {
	streamID := uuid.New().String()
	conn := wire.NewConn(nc, 0)
	sess := b.registry.Create(streamID)

	remoteHost, _, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		remoteHost = nc.RemoteAddr().String()
	}

	defer func() {
		if sess.IsAuthenticated() {
			if err := b.store.Deauthenticate(sess.UserUUID); err != nil {
				b.log.Warnf("deauthenticate %s on disconnect: %v", sess.UserUUID, err)
			}
		}
		b.registry.Remove(streamID)
		conn.Close()
	}()

	for {
		pkt, err := conn.Recv()
		if err != nil {
			return // EOF or transport error: treat as disconnect
		}
		b.dispatchRecovered(sess, remoteHost, conn, pkt)
	}
}

// dispatchRecovered wraps dispatch with a panic recovery so one bad packet
// cannot take the listener down (spec §7).
func (b *Broker) dispatchRecovered(sess *models.Session, remoteHost string, conn *wire.Conn, pkt *wire.Packet) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("recovered panic handling %s from stream %s: %v", pkt.Type, sess.StreamID, r)
		}
	}()
	b.dispatch(sess, remoteHost, conn, pkt)
}

// handleError logs a precondition or handler failure at WARNING, per spec
// §7. It sends nothing itself; callers whose request has a paired error
// packet send that packet separately, the rest drop the request.
func (b *Broker) handleError(context string, err error) {
	b.log.Warnf("%s: %v", context, err)
}
