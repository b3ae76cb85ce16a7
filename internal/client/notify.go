package client

import (
	"sync"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

// InviteInbox collects meeting invites received on this connection.
// It lives only for the session; an invite names a room, and joining
// that room is an ordinary JoinRoom call.
type InviteInbox struct {
	mu      sync.Mutex
	pending map[domain.RoomID]protocol.MeetingInvite
}

func NewInviteInbox() *InviteInbox {
	return &InviteInbox{pending: make(map[domain.RoomID]protocol.MeetingInvite)}
}

// Add records an invite. A second invite to the same room replaces the
// first; the room is what matters, not the count.
func (in *InviteInbox) Add(inv protocol.MeetingInvite) {
	in.mu.Lock()
	in.pending[inv.RoomID] = inv
	in.mu.Unlock()
}

func (in *InviteInbox) Pending() []protocol.MeetingInvite {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]protocol.MeetingInvite, 0, len(in.pending))
	for _, inv := range in.pending {
		out = append(out, inv)
	}
	return out
}

// Accept removes and returns the invite for a room, if one is pending.
func (in *InviteInbox) Accept(room domain.RoomID) (protocol.MeetingInvite, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	inv, ok := in.pending[room]
	if ok {
		delete(in.pending, room)
	}
	return inv, ok
}

func (in *InviteInbox) Dismiss(room domain.RoomID) {
	in.mu.Lock()
	delete(in.pending, room)
	in.mu.Unlock()
}
