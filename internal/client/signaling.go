// Package client implements the meeting participant: the signaling
// connection, the per-peer negotiation links and the local media
// sources. It is the counterpart of the server's signal adapter.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	sendBacklog  = 64
)

// Client is one signaling connection to the relay plus the link pool
// negotiating with the other members of the joined room.
type Client struct {
	conn  *websocket.Conn
	pool  *LinkPool
	media *LocalMedia
	inbox *InviteInbox

	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	closed      bool
	room        domain.RoomID
	displayName string
}

// Dial connects to the relay's signal endpoint. token, when set, is
// presented as the client-token cookie so reconnects keep the same
// identity.
func Dial(ctx context.Context, url, token, displayName string, pool func(out Sender) *LinkPool, media *LocalMedia) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Cookie", "ct="+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:        conn,
		media:       media,
		inbox:       NewInviteInbox(),
		send:        make(chan []byte, sendBacklog),
		done:        make(chan struct{}),
		displayName: displayName,
	}
	c.pool = pool(c)

	go c.writeLoop()
	go c.readLoop()

	log.Info().Str("module", "client").Str("url", url).Msg("signaling connected")
	return c, nil
}

// Send encodes and queues one signaling message. Implements Sender
// for the link pool.
func (c *Client) Send(v any) error {
	b, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "client").Msg("set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Error().Err(err).Str("module", "client").Msg("write error")
				return
			}
		case <-ticker.C:
			b, _ := protocol.Encode(protocol.Envelope{Type: protocol.TypePing})
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Error().Err(err).Str("module", "client").Msg("ping error")
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "client").Msg("signaling read ended")
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad server json")
		return
	}

	switch env.Type {
	case protocol.TypeRoomUsers:
		var msg protocol.RoomUsers
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.pool.OnRoomUsers(msg.Peers)
		c.Announce()

	case protocol.TypeUserJoined:
		var msg protocol.UserJoined
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.pool.OnUserJoined(msg.ConnectionID)
		// Re-announce so the newcomer learns our name too.
		c.Announce()

	case protocol.TypeUserLeft:
		var msg protocol.UserLeft
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.pool.OnUserLeft(msg.ConnectionID)

	case protocol.TypeOffer:
		var msg protocol.Signal
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.pool.OnOffer(msg.FromConnectionID, msg.Description)

	case protocol.TypeAnswer:
		var msg protocol.Signal
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.pool.OnAnswer(msg.FromConnectionID, msg.Description)

	case protocol.TypeICECandidate:
		var msg protocol.Candidate
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.pool.OnCandidate(msg.FromConnectionID, msg.Candidate)

	case protocol.TypePeerInfo:
		var msg protocol.PeerInfo
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.pool.OnPeerInfo(msg.ConnectionID, msg.DisplayName)

	case protocol.TypeMeetingInvite:
		var msg protocol.MeetingInvite
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.inbox.Add(msg)
		log.Info().Str("module", "client").Str("room", string(msg.RoomID)).Str("from", msg.InviterDisplayName).Msg("meeting invite")

	case protocol.TypePong:
		// keepalive reply, nothing to do

	default:
		log.Warn().Str("module", "client").Str("type", env.Type).Msg("unknown server message")
	}
}

// JoinRoom asks the broker for membership. Peer links are created when
// room-users arrives.
func (c *Client) JoinRoom(room domain.RoomID) error {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	c.pool.SetRoom(room)
	return c.Send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomID: room})
}

// LeaveRoom tears down every link and tells the broker.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	room := c.room
	c.room = ""
	c.mu.Unlock()
	c.pool.CloseAll()
	if room == "" {
		return nil
	}
	return c.Send(protocol.LeaveRoom{Type: protocol.TypeLeaveRoom, RoomID: room})
}

// Announce broadcasts the local display name to the room.
func (c *Client) Announce() {
	c.mu.Lock()
	room, name := c.room, c.displayName
	c.mu.Unlock()
	if room == "" || name == "" {
		return
	}
	if err := c.Send(protocol.UserInfo{Type: protocol.TypeUserInfo, RoomID: room, DisplayName: name}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("announce failed")
	}
}

// Invite asks the relay to notify every live connection of an identity
// about the current room.
func (c *Client) Invite(target domain.ParticipantID) error {
	c.mu.Lock()
	room, name := c.room, c.displayName
	c.mu.Unlock()
	return c.Send(protocol.MeetingInvite{
		Type:               protocol.TypeMeetingInvite,
		RoomID:             room,
		InviterDisplayName: name,
		TargetIdentity:     target,
	})
}

// StartScreen switches every link to a screen source.
func (c *Client) StartScreen(capture CaptureFunc) error {
	src, err := c.media.StartScreen(capture)
	if err != nil {
		return err
	}
	c.pool.SwitchSource(src)
	return nil
}

// StopScreen reinstates the camera on every link.
func (c *Client) StopScreen() {
	if src := c.media.StopScreen(); src != nil {
		c.pool.SwitchSource(src)
	}
}

func (c *Client) Pool() *LinkPool     { return c.pool }
func (c *Client) Inbox() *InviteInbox { return c.inbox }

// Close is idempotent; it ends both loops and closes every link.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.pool.CloseAll()
	if err := c.conn.Close(); err != nil {
		log.Debug().Err(err).Str("module", "client").Msg("conn close")
	}
}
