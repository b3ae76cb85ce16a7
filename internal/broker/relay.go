package broker

import (
	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/core"
	"github.com/skillmeet/meetcore/internal/domain"
)

// Relay routes offer/answer/candidate frames to a single target
// connection. It is stateless and never inspects the payload; the one
// validation is that the target is currently a member of the stated
// room. A miss is an expected race (the target may have left after the
// sender's snapshot) and is dropped silently.
type Relay struct {
	reg   *Registry
	rooms *Rooms
}

func NewRelay(reg *Registry, rooms *Rooms) *Relay {
	return &Relay{reg: reg, rooms: rooms}
}

// Forward sends the pre-encoded frame to target. Returns false on a
// drop; the sender is never told.
func (r *Relay) Forward(room domain.RoomID, target domain.ConnID, frame core.Frame) bool {
	if !r.rooms.Contains(room, target) {
		log.Debug().Str("module", "broker.relay").Str("room", string(room)).Str("target", string(target)).Msg("target not in room, dropped")
		return false
	}
	conn, ok := r.reg.Conn(target)
	if !ok {
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "broker.relay").Str("target", string(target)).Msg("forward dropped")
		return false
	}
	return true
}
