// Package session implements the broker-side session registry (spec
// §4.4): a mapping from stream_id to mutable Session state, with a
// linear-scan lookup by user uuid used to route peer key exchange and
// message relay to the right connection.
package session

import (
	"sync"

	"github.com/kindlyrobotics/iplchat/internal/models"
)

// Registry owns every live connection's Session record. Session state is
// otherwise accessed only by the goroutine handling that connection
// (spec §5); the registry's lock guards only the map itself, never the
// fields inside a Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*models.Session)}
}

// Create installs a fresh session for streamID. The broker calls it as soon
// as a connection is accepted, before any HANDSHAKE_REQUEST arrives.
func (r *Registry) Create(streamID string) *models.Session {
	s := models.NewSession(streamID)
	r.mu.Lock()
	r.sessions[streamID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session for streamID, if any.
func (r *Registry) Get(streamID string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[streamID]
	return s, ok
}

// Remove deletes streamID's session. The broker calls it when the
// connection closes; LOGOUT_REQUEST does not remove the session, it only
// clears the session's user identity while the connection stays open.
func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	delete(r.sessions, streamID)
	r.mu.Unlock()
}

// FindByUUID returns the stream_id of the authenticated session whose
// user_uuid matches, by linear scan, as used to route client-to-client
// key exchange and message relay.
func (r *Registry) FindByUUID(userUUID string) (streamID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.sessions {
		if s.IsAuthenticated() && s.UserUUID == userUUID {
			return id, true
		}
	}
	return "", false
}

// Len reports how many sessions are currently registered, used by the
// admin console's `clients` command.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a shallow copy of every live session, for the admin
// console's `clients` command. Callers must not mutate the returned
// sessions' shared fields without holding the session's own connection
// goroutine.
func (r *Registry) Snapshot() []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
