package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the connection. Its deferred cleanup is the single
// place a disconnect is turned into leave events, whatever the cause.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, connID domain.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
		ctl.Rooms.LeaveAll(connID)
		ctl.Registry.Disconnect(connID)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(connID, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(connID domain.ConnID, c *WsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		ctl.handleJoinRoom(connID, c, data)
	case protocol.TypeLeaveRoom:
		ctl.handleLeaveRoom(connID, c, data)
	case protocol.TypeUserInfo:
		ctl.handleUserInfo(connID, data)
	case protocol.TypeOffer, protocol.TypeAnswer:
		ctl.handleDescription(connID, env.Type, data)
	case protocol.TypeICECandidate:
		ctl.handleCandidate(connID, data)
	case protocol.TypeMeetingInvite:
		ctl.handleMeetingInvite(connID, data)
	case protocol.TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
