package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

// handleDescription relays an offer or answer. The description itself
// stays raw JSON end to end; only the from stamp is added.
func (ctl *SignalWSController) handleDescription(
	connID domain.ConnID,
	kind string,
	data []byte,
) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", kind).Msg("bad description payload")
		return
	}
	if p.TargetConnectionID == "" {
		log.Warn().Str("module", "signal").Str("type", kind).Msg("description without target")
		return
	}

	out := protocol.Signal{
		Type:             kind,
		RoomID:           p.RoomID,
		FromConnectionID: connID,
		Description:      p.Description,
	}
	b, err := protocol.Encode(out)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode description")
		return
	}
	ctl.Relay.Forward(p.RoomID, p.TargetConnectionID, b)
}

func (ctl *SignalWSController) handleCandidate(
	connID domain.ConnID,
	data []byte,
) {
	var p protocol.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	if p.TargetConnectionID == "" {
		log.Warn().Str("module", "signal").Msg("candidate without target")
		return
	}

	out := protocol.Candidate{
		Type:             protocol.TypeICECandidate,
		RoomID:           p.RoomID,
		FromConnectionID: connID,
		Candidate:        p.Candidate,
	}
	b, err := protocol.Encode(out)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode candidate")
		return
	}
	ctl.Relay.Forward(p.RoomID, p.TargetConnectionID, b)
}
