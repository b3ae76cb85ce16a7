package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skillmeet/meetcore/internal/core"
	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// received decodes every frame's type discriminator in arrival order.
func (c *fakeConn) received(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeConn) last(t *testing.T, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], v))
}

func newBrokerForTest() (*Registry, *Rooms) {
	reg := NewRegistry()
	return reg, NewRooms(reg)
}

func TestJoinReturnsOthersExcludingCaller(t *testing.T) {
	reg, rooms := newBrokerForTest()
	a := reg.Connect("alice", &fakeConn{})
	b := reg.Connect("bob", &fakeConn{})

	require.Empty(t, rooms.Join(a, "r1"))

	others := rooms.Join(b, "r1")
	require.Equal(t, []domain.ConnID{a}, others)
}

func TestLateJoinerNeverSeesDeparted(t *testing.T) {
	reg, rooms := newBrokerForTest()
	a := reg.Connect("alice", &fakeConn{})
	b := reg.Connect("bob", &fakeConn{})
	c := reg.Connect("carol", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")
	rooms.Leave(a, "r1")

	others := rooms.Join(c, "r1")
	require.Equal(t, []domain.ConnID{b}, others)
}

func TestJoinBroadcastsUserJoined(t *testing.T) {
	reg, rooms := newBrokerForTest()
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")

	var ev protocol.UserJoined
	aConn.last(t, &ev)
	require.Equal(t, protocol.TypeUserJoined, ev.Type)
	require.Equal(t, b, ev.ConnectionID)
}

func TestRejoinIsMembershipNoopButRebroadcasts(t *testing.T) {
	reg, rooms := newBrokerForTest()
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")
	rooms.Join(b, "r1")

	require.Len(t, rooms.Members("r1"), 2)
	require.Equal(t, []string{protocol.TypeUserJoined, protocol.TypeUserJoined}, aConn.received(t))
}

func TestLeaveBroadcastsUserLeftAndReapsEmptyRoom(t *testing.T) {
	reg, rooms := newBrokerForTest()
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")
	rooms.Leave(b, "r1")

	var ev protocol.UserLeft
	aConn.last(t, &ev)
	require.Equal(t, b, ev.ConnectionID)

	rooms.Leave(a, "r1")
	require.Empty(t, rooms.List())
}

func TestLeaveOfNonMemberIsNoop(t *testing.T) {
	reg, rooms := newBrokerForTest()
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Leave(b, "r1")
	rooms.Leave(b, "nosuch")

	require.Empty(t, aConn.received(t))
	require.Len(t, rooms.Members("r1"), 1)
}

func TestLeaveAllCleansEveryRoom(t *testing.T) {
	reg, rooms := newBrokerForTest()
	aConn := &fakeConn{}
	bConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", bConn)
	c := reg.Connect("carol", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r2")
	rooms.Join(c, "r1")
	rooms.Join(c, "r2")

	rooms.LeaveAll(c)

	require.False(t, rooms.Contains("r1", c))
	require.False(t, rooms.Contains("r2", c))
	require.Contains(t, aConn.received(t), protocol.TypeUserLeft)
	require.Contains(t, bConn.received(t), protocol.TypeUserLeft)
}

func TestSetUserInfoBroadcastsPeerInfoToOthersOnly(t *testing.T) {
	reg, rooms := newBrokerForTest()
	aConn := &fakeConn{}
	bConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", bConn)

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")
	rooms.SetUserInfo(b, "r1", "Bob")

	var ev protocol.PeerInfo
	aConn.last(t, &ev)
	require.Equal(t, b, ev.ConnectionID)
	require.Equal(t, "Bob", ev.DisplayName)
	require.NotContains(t, bConn.received(t), protocol.TypePeerInfo)
}

func TestSetUserInfoOutsideRoomIsNoop(t *testing.T) {
	reg, rooms := newBrokerForTest()
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.SetUserInfo(b, "r1", "Bob")

	require.Empty(t, aConn.received(t))
}

func TestRelayForwardsVerbatim(t *testing.T) {
	reg, rooms := newBrokerForTest()
	relay := NewRelay(reg, rooms)
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")

	frame := core.Frame(`{"type":"offer","roomId":"r1","fromConnectionId":"` + string(b) + `","description":{"type":"offer","sdp":"v=0"}}`)
	require.True(t, relay.Forward("r1", a, frame))

	aConn.mu.Lock()
	defer aConn.mu.Unlock()
	require.Equal(t, frame, aConn.frames[len(aConn.frames)-1])
}

func TestRelayDropsWhenTargetNotInRoom(t *testing.T) {
	reg, rooms := newBrokerForTest()
	relay := NewRelay(reg, rooms)
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(b, "r1")

	require.False(t, relay.Forward("r1", a, core.Frame(`{"type":"offer"}`)))
	require.False(t, relay.Forward("r2", b, core.Frame(`{"type":"offer"}`)))
	require.Empty(t, aConn.received(t))
}

func TestRelayDropsAfterTargetLeft(t *testing.T) {
	reg, rooms := newBrokerForTest()
	relay := NewRelay(reg, rooms)
	aConn := &fakeConn{}
	a := reg.Connect("alice", aConn)
	b := reg.Connect("bob", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")
	rooms.Leave(a, "r1")

	require.False(t, relay.Forward("r1", a, core.Frame(`{"type":"ice-candidate"}`)))
}

func TestInviteReachesEveryConnectionOfIdentity(t *testing.T) {
	reg := NewRegistry()
	notifier := NewNotifier(reg)
	tab1 := &fakeConn{}
	tab2 := &fakeConn{}
	other := &fakeConn{}
	reg.Connect("bob", tab1)
	reg.Connect("bob", tab2)
	reg.Connect("carol", other)

	notifier.Invite("r1", "Alice", "bob")

	for _, c := range []*fakeConn{tab1, tab2} {
		var ev protocol.MeetingInvite
		c.last(t, &ev)
		require.Equal(t, domain.RoomID("r1"), ev.RoomID)
		require.Equal(t, "Alice", ev.InviterDisplayName)
		require.Empty(t, ev.TargetIdentity)
	}
	require.Empty(t, other.received(t))
}

func TestInviteToOfflineIdentityIsDropped(t *testing.T) {
	reg := NewRegistry()
	notifier := NewNotifier(reg)

	notifier.Invite("r1", "Alice", "ghost")
}

func TestDisconnectForgetsIdentityMapping(t *testing.T) {
	reg := NewRegistry()
	c1 := &fakeConn{}
	id := reg.Connect("alice", c1)

	require.Len(t, reg.ConnsOf("alice"), 1)
	reg.Disconnect(id)
	require.Empty(t, reg.ConnsOf("alice"))
	_, ok := reg.Conn(id)
	require.False(t, ok)
}

func TestBroadcastToSlowConnIsDroppedNotFatal(t *testing.T) {
	reg, rooms := newBrokerForTest()
	slow := &fakeConn{fail: true}
	ok := &fakeConn{}
	a := reg.Connect("alice", slow)
	b := reg.Connect("bob", ok)
	c := reg.Connect("carol", &fakeConn{})

	rooms.Join(a, "r1")
	rooms.Join(b, "r1")
	rooms.Join(c, "r1")

	require.Contains(t, ok.received(t), protocol.TypeUserJoined)
	require.Len(t, rooms.Members("r1"), 3)
}
