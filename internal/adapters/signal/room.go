package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

func (ctl *SignalWSController) handleJoinRoom(
	connID domain.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join-room payload")
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}
	if p.RoomID == "" {
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"error": "empty room",
		})
		return
	}

	if ctl.Limiter != nil {
		identity, _ := ctl.Registry.Identity(connID)
		if !ctl.Limiter.Allow(identity) {
			log.Warn().Str("module", "signal").Str("conn", string(connID)).Msg("join rate limited")
			ctl.sendJSON(conn, map[string]any{
				"type":  "error",
				"error": "rate_limited",
			})
			return
		}
	}

	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", string(p.RoomID)).Msg("join-room")
	others := ctl.Rooms.Join(connID, p.RoomID)

	ctl.sendJSON(conn, protocol.RoomUsers{
		Type:  protocol.TypeRoomUsers,
		Peers: others,
	})
}

// handleLeaveRoom removes the connection from one room; the WebSocket
// itself stays open.
func (ctl *SignalWSController) handleLeaveRoom(
	connID domain.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.LeaveRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave-room payload")
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", string(p.RoomID)).Msg("leave-room")
	ctl.Rooms.Leave(connID, p.RoomID)
}

func (ctl *SignalWSController) handleUserInfo(
	connID domain.ConnID,
	data []byte,
) {
	var p protocol.UserInfo
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad user-info payload")
		return
	}
	if err := domain.ValidateDisplayName(p.DisplayName); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("user-info rejected")
		return
	}
	ctl.Rooms.SetUserInfo(connID, p.RoomID, p.DisplayName)
}
