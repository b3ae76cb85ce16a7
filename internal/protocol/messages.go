// Package protocol defines the signaling messages exchanged over one
// WebSocket connection. The relay forwards description/candidate payloads
// verbatim, so both are kept as raw JSON here.
package protocol

import (
	"encoding/json"

	"github.com/skillmeet/meetcore/internal/domain"
)

const (
	TypeJoinRoom      = "join-room"
	TypeLeaveRoom     = "leave-room"
	TypeRoomUsers     = "room-users"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice-candidate"
	TypeUserInfo      = "user-info"
	TypePeerInfo      = "peer-info"
	TypeMeetingInvite = "meeting-invite"
	TypePing          = "ping"
	TypePong          = "pong"
)

// Envelope carries only the discriminator; handlers re-unmarshal the
// full payload for their own type.
type Envelope struct {
	Type string `json:"type"`
}

type JoinRoom struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type LeaveRoom struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

// RoomUsers is the broker's reply to join-room: current members of the
// room excluding the caller.
type RoomUsers struct {
	Type  string          `json:"type"`
	Peers []domain.ConnID `json:"peers"`
}

type UserJoined struct {
	Type         string        `json:"type"`
	ConnectionID domain.ConnID `json:"connectionId"`
}

type UserLeft struct {
	Type         string        `json:"type"`
	ConnectionID domain.ConnID `json:"connectionId"`
}

// Signal carries an offer or answer between two peers. Description is
// never parsed on the server.
type Signal struct {
	Type               string          `json:"type"`
	RoomID             domain.RoomID   `json:"roomId"`
	TargetConnectionID domain.ConnID   `json:"targetConnectionId,omitempty"`
	FromConnectionID   domain.ConnID   `json:"fromConnectionId,omitempty"`
	Description        json.RawMessage `json:"description"`
}

type Candidate struct {
	Type               string          `json:"type"`
	RoomID             domain.RoomID   `json:"roomId"`
	TargetConnectionID domain.ConnID   `json:"targetConnectionId,omitempty"`
	FromConnectionID   domain.ConnID   `json:"fromConnectionId,omitempty"`
	Candidate          json.RawMessage `json:"candidate"`
}

// UserInfo is a display-name announcement to the rest of the room.
// Advisory only, never used for addressing.
type UserInfo struct {
	Type        string        `json:"type"`
	RoomID      domain.RoomID `json:"roomId"`
	DisplayName string        `json:"displayName"`
}

// PeerInfo is the server-side fan-out of UserInfo, stamped with the
// sender's connection id.
type PeerInfo struct {
	Type         string        `json:"type"`
	ConnectionID domain.ConnID `json:"connectionId"`
	DisplayName  string        `json:"displayName"`
}

// MeetingInvite is sent by a room creator naming a target identity;
// the server forwards it, without TargetIdentity, to every live
// connection of that identity regardless of room membership.
type MeetingInvite struct {
	Type               string               `json:"type"`
	RoomID             domain.RoomID        `json:"roomId"`
	InviterDisplayName string               `json:"inviterDisplayName"`
	TargetIdentity     domain.ParticipantID `json:"targetIdentity,omitempty"`
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
