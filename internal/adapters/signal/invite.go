package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

// handleMeetingInvite forwards an invitation to every live connection
// of the target identity, independent of room membership.
func (ctl *SignalWSController) handleMeetingInvite(
	connID domain.ConnID,
	data []byte,
) {
	var p protocol.MeetingInvite
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad meeting-invite payload")
		return
	}
	if p.TargetIdentity == "" || p.RoomID == "" {
		log.Warn().Str("module", "signal").Str("conn", string(connID)).Msg("meeting-invite without target or room")
		return
	}
	ctl.Notifier.Invite(p.RoomID, p.InviterDisplayName, p.TargetIdentity)
}
