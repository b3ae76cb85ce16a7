package broker

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/core"
	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

// Rooms owns room membership. Rooms are created lazily on the first
// join and reaped when the last member leaves; nothing is persisted.
type Rooms struct {
	reg *Registry

	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[domain.ConnID]*domain.Member
	byConn map[domain.ConnID]map[domain.RoomID]struct{}
}

func NewRooms(reg *Registry) *Rooms {
	return &Rooms{
		reg:    reg,
		rooms:  make(map[domain.RoomID]map[domain.ConnID]*domain.Member),
		byConn: make(map[domain.ConnID]map[domain.RoomID]struct{}),
	}
}

// Join adds the connection to the room and returns the other current
// members. Re-joining is a membership no-op but still re-broadcasts
// user-joined; the client side guards against duplicate peer links.
func (rs *Rooms) Join(conn domain.ConnID, room domain.RoomID) []domain.ConnID {
	identity, ok := rs.reg.Identity(conn)
	if !ok {
		return nil
	}

	rs.mu.Lock()
	members, ok := rs.rooms[room]
	if !ok {
		members = make(map[domain.ConnID]*domain.Member)
		rs.rooms[room] = members
	}
	others := make([]domain.ConnID, 0, len(members))
	for id := range members {
		if id != conn {
			others = append(others, id)
		}
	}
	if _, ok := members[conn]; !ok {
		members[conn] = domain.NewMember(conn, identity)
	}
	joined, ok := rs.byConn[conn]
	if !ok {
		joined = make(map[domain.RoomID]struct{})
		rs.byConn[conn] = joined
	}
	joined[room] = struct{}{}
	rs.mu.Unlock()

	log.Info().Str("module", "broker.rooms").Str("conn", string(conn)).Str("room", string(room)).Int("others", len(others)).Msg("joined room")

	rs.fanOut(others, protocol.UserJoined{Type: protocol.TypeUserJoined, ConnectionID: conn})
	return others
}

// SetUserInfo stores the display name and announces it to the rest of
// the room. Advisory only; addressing always uses connection ids.
func (rs *Rooms) SetUserInfo(conn domain.ConnID, room domain.RoomID, displayName string) {
	rs.mu.Lock()
	members, ok := rs.rooms[room]
	if !ok {
		rs.mu.Unlock()
		return
	}
	m, ok := members[conn]
	if !ok {
		rs.mu.Unlock()
		return
	}
	m.DisplayName = displayName
	others := othersOf(members, conn)
	rs.mu.Unlock()

	rs.fanOut(others, protocol.PeerInfo{Type: protocol.TypePeerInfo, ConnectionID: conn, DisplayName: displayName})
}

// Leave removes the connection from exactly one room.
func (rs *Rooms) Leave(conn domain.ConnID, room domain.RoomID) {
	rs.mu.Lock()
	remaining := rs.removeLocked(conn, room)
	rs.mu.Unlock()
	if remaining == nil {
		return
	}
	rs.fanOut(remaining, protocol.UserLeft{Type: protocol.TypeUserLeft, ConnectionID: conn})
}

// LeaveAll removes the connection from every room it occupies. Called
// exactly once per disconnect regardless of cause.
func (rs *Rooms) LeaveAll(conn domain.ConnID) {
	rs.mu.Lock()
	affected := make(map[domain.RoomID][]domain.ConnID)
	for room := range rs.byConn[conn] {
		if remaining := rs.removeLocked(conn, room); remaining != nil {
			affected[room] = remaining
		}
	}
	rs.mu.Unlock()

	for room, remaining := range affected {
		log.Info().Str("module", "broker.rooms").Str("conn", string(conn)).Str("room", string(room)).Msg("left on disconnect")
		rs.fanOut(remaining, protocol.UserLeft{Type: protocol.TypeUserLeft, ConnectionID: conn})
	}
}

// removeLocked detaches conn from room and returns the remaining
// members, or nil if conn was not a member. Empty rooms are reaped.
func (rs *Rooms) removeLocked(conn domain.ConnID, room domain.RoomID) []domain.ConnID {
	members, ok := rs.rooms[room]
	if !ok {
		return nil
	}
	if _, ok := members[conn]; !ok {
		return nil
	}
	delete(members, conn)
	if joined, ok := rs.byConn[conn]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(rs.byConn, conn)
		}
	}
	if len(members) == 0 {
		delete(rs.rooms, room)
		log.Info().Str("module", "broker.rooms").Str("room", string(room)).Msg("room reaped")
		return []domain.ConnID{}
	}
	return othersOf(members, conn)
}

// Contains reports current membership; the relay's single validation.
func (rs *Rooms) Contains(room domain.RoomID, conn domain.ConnID) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	members, ok := rs.rooms[room]
	if !ok {
		return false
	}
	_, ok = members[conn]
	return ok
}

// Members returns a snapshot of the room's member records.
func (rs *Rooms) Members(room domain.RoomID) []domain.Member {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	members := rs.rooms[room]
	out := make([]domain.Member, 0, len(members))
	for _, m := range members {
		out = append(out, *m)
	}
	return out
}

// List returns every live room with its member count.
func (rs *Rooms) List() []RoomInfo {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]RoomInfo, 0, len(rs.rooms))
	for id, members := range rs.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: len(members)})
	}
	return out
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

func othersOf(members map[domain.ConnID]*domain.Member, except domain.ConnID) []domain.ConnID {
	out := make([]domain.ConnID, 0, len(members))
	for id := range members {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

// fanOut delivers one event to a set of connections. A target that
// disappeared between snapshot and send is a no-op, not an error.
func (rs *Rooms) fanOut(targets []domain.ConnID, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "broker.rooms").Msg("encode broadcast")
		return
	}
	for _, id := range targets {
		conn, ok := rs.reg.Conn(id)
		if !ok {
			continue
		}
		if err := conn.TrySend(core.Frame(b)); err != nil {
			log.Warn().Err(err).Str("module", "broker.rooms").Str("conn", string(id)).Msg("broadcast dropped")
		}
	}
}
