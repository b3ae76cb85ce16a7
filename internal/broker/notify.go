package broker

import (
	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/core"
	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

// Notifier delivers meeting invitations to a participant identity,
// independent of room membership. Fire-and-forget: no queuing, no
// persistence; an offline target simply misses the invite.
type Notifier struct {
	reg *Registry
}

func NewNotifier(reg *Registry) *Notifier {
	return &Notifier{reg: reg}
}

func (n *Notifier) Invite(room domain.RoomID, inviterDisplayName string, target domain.ParticipantID) {
	conns := n.reg.ConnsOf(target)
	if len(conns) == 0 {
		log.Debug().Str("module", "broker.notify").Str("identity", string(target)).Msg("invite target offline, dropped")
		return
	}
	b, err := protocol.Encode(protocol.MeetingInvite{
		Type:               protocol.TypeMeetingInvite,
		RoomID:             room,
		InviterDisplayName: inviterDisplayName,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "broker.notify").Msg("encode invite")
		return
	}
	for _, conn := range conns {
		if err := conn.TrySend(core.Frame(b)); err != nil {
			log.Warn().Err(err).Str("module", "broker.notify").Msg("invite dropped")
		}
	}
	log.Info().Str("module", "broker.notify").Str("room", string(room)).Str("identity", string(target)).Int("conns", len(conns)).Msg("invite delivered")
}
