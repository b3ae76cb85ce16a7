// Package broker is the server-side bookkeeping core: who is connected,
// who is in which room, and message forwarding between them. It has no
// media knowledge; session descriptions pass through it opaque.
package broker

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/core"
	"github.com/skillmeet/meetcore/internal/domain"
)

type connEntry struct {
	identity domain.ParticipantID
	conn     core.SignalConnection
}

// Registry is the authoritative map of live transport connections.
// Instances are constructed in main and passed down explicitly; there
// is no package-level state.
type Registry struct {
	mu         sync.RWMutex
	conns      map[domain.ConnID]*connEntry
	byIdentity map[domain.ParticipantID]map[domain.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[domain.ConnID]*connEntry),
		byIdentity: make(map[domain.ParticipantID]map[domain.ConnID]struct{}),
	}
}

// Connect registers a new transport connection under an already
// authenticated identity. It cannot fail; auth happened upstream.
func (r *Registry) Connect(identity domain.ParticipantID, conn core.SignalConnection) domain.ConnID {
	id := domain.ConnID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{identity: identity, conn: conn}
	set, ok := r.byIdentity[identity]
	if !ok {
		set = make(map[domain.ConnID]struct{})
		r.byIdentity[identity] = set
	}
	set[id] = struct{}{}
	log.Info().Str("module", "broker.presence").Str("conn", string(id)).Str("identity", string(identity)).Msg("connection registered")
	return id
}

// Disconnect forgets the connection. Room membership cleanup is the
// caller's job (Rooms.LeaveAll) and must happen first.
func (r *Registry) Disconnect(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return
	}
	delete(r.conns, id)
	if set, ok := r.byIdentity[e.identity]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byIdentity, e.identity)
		}
	}
	log.Info().Str("module", "broker.presence").Str("conn", string(id)).Msg("connection removed")
}

func (r *Registry) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) Identity(id domain.ConnID) (domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return e.identity, true
}

// ConnsOf returns every live connection of an identity, in no
// particular order. Empty when the identity is offline.
func (r *Registry) ConnsOf(identity domain.ParticipantID) []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byIdentity[identity]
	out := make([]core.SignalConnection, 0, len(set))
	for id := range set {
		if e, ok := r.conns[id]; ok {
			out = append(out, e.conn)
		}
	}
	return out
}
