package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

// recordSender captures outgoing signaling messages instead of
// touching a socket.
type recordSender struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recordSender) Send(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, v)
	return nil
}

func (r *recordSender) signals(msgType string) []protocol.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Signal
	for _, m := range r.msgs {
		if s, ok := m.(protocol.Signal); ok && s.Type == msgType {
			out = append(out, s)
		}
	}
	return out
}

func (r *recordSender) lastSignal(t *testing.T, msgType string) protocol.Signal {
	t.Helper()
	all := r.signals(msgType)
	require.NotEmpty(t, all, "expected a %s to have been sent", msgType)
	return all[len(all)-1]
}

func mustSynthetic(t *testing.T, kind SourceKind, withVideo bool) *MediaSource {
	t.Helper()
	src, err := SyntheticCapture(kind, withVideo)
	require.NoError(t, err)
	return src
}

func mustLink(t *testing.T, remote domain.ConnID, out Sender) *PeerLink {
	t.Helper()
	l, err := newPeerLink(remote, "room-1", webrtc.Configuration{}, out)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func decodeDesc(t *testing.T, raw json.RawMessage) webrtc.SessionDescription {
	t.Helper()
	var sd webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(raw, &sd))
	return sd
}

func TestOfferAnswerExchangeConnectsBothLinks(t *testing.T) {
	sendA, sendB := &recordSender{}, &recordSender{}
	linkA := mustLink(t, "b", sendA)
	linkB := mustLink(t, "a", sendB)

	_, err := linkA.AttachSource(mustSynthetic(t, SourceCamera, true))
	require.NoError(t, err)
	_, err = linkB.AttachSource(mustSynthetic(t, SourceCamera, true))
	require.NoError(t, err)

	require.NoError(t, linkA.SendOffer())
	require.Equal(t, LinkOfferSent, linkA.State())

	offer := sendA.lastSignal(t, protocol.TypeOffer)
	require.Equal(t, domain.ConnID("b"), offer.TargetConnectionID)
	require.NoError(t, linkB.HandleOffer(decodeDesc(t, offer.Description)))

	answer := sendB.lastSignal(t, protocol.TypeAnswer)
	require.NoError(t, linkA.HandleAnswer(decodeDesc(t, answer.Description)))

	require.Equal(t, LinkConnected, linkA.State())
	require.Eventually(t, func() bool {
		return linkB.State() == LinkConnected
	}, 2*time.Second, 10*time.Millisecond, "answerer should settle once signaling is stable")
}

func TestCandidatesQueueUntilRemoteDescriptionThenDrainInOrder(t *testing.T) {
	send := &recordSender{}
	link := mustLink(t, "b", send)
	_, err := link.AttachSource(mustSynthetic(t, SourceCamera, true))
	require.NoError(t, err)

	mid := "0"
	cands := []webrtc.ICECandidateInit{
		{Candidate: "candidate:1 1 UDP 2122252543 127.0.0.1 54400 typ host", SDPMid: &mid},
		{Candidate: "candidate:2 1 UDP 2122252542 127.0.0.1 54401 typ host", SDPMid: &mid},
		{Candidate: "candidate:3 1 UDP 2122252541 127.0.0.1 54402 typ host", SDPMid: &mid},
	}
	for _, ci := range cands {
		raw, err := json.Marshal(ci)
		require.NoError(t, err)
		require.NoError(t, link.HandleCandidate(raw))
	}

	link.mu.Lock()
	queued := append([]webrtc.ICECandidateInit(nil), link.queued...)
	link.mu.Unlock()
	require.Len(t, queued, 3)
	for i, ci := range cands {
		require.Equal(t, ci.Candidate, queued[i].Candidate, "arrival order must be preserved")
	}

	// A remote offer makes the link ready and drains the queue.
	sendPeer := &recordSender{}
	peer := mustLink(t, "a", sendPeer)
	_, err = peer.AttachSource(mustSynthetic(t, SourceCamera, true))
	require.NoError(t, err)
	require.NoError(t, peer.SendOffer())
	require.NoError(t, link.HandleOffer(decodeDesc(t, sendPeer.lastSignal(t, protocol.TypeOffer).Description)))

	link.mu.Lock()
	remaining := len(link.queued)
	ready := link.remoteReady
	link.mu.Unlock()
	require.True(t, ready)
	require.Zero(t, remaining, "queue must be drained after the description lands")
}

func TestNewcomerOffersToEveryMemberIncumbentOffersToNone(t *testing.T) {
	media := NewLocalMedia()
	media.AcquireCamera(SyntheticCapture)

	joinerOut := &recordSender{}
	joiner := NewLinkPool(webrtc.Configuration{}, media, joinerOut)
	joiner.SetRoom("room-1")
	t.Cleanup(joiner.CloseAll)
	joiner.OnRoomUsers([]domain.ConnID{"m1", "m2", "m3"})
	require.Len(t, joinerOut.signals(protocol.TypeOffer), 3)

	incumbentOut := &recordSender{}
	incumbent := NewLinkPool(webrtc.Configuration{}, media, incumbentOut)
	incumbent.SetRoom("room-1")
	t.Cleanup(incumbent.CloseAll)
	incumbent.OnUserJoined("newcomer")
	require.Empty(t, incumbentOut.signals(protocol.TypeOffer), "incumbent waits for the joiner's offer")
	require.Equal(t, []domain.ConnID{"newcomer"}, incumbent.Peers(), "the link still exists")
}

func TestPoolHandshake(t *testing.T) {
	mediaA, mediaB := NewLocalMedia(), NewLocalMedia()
	mediaA.AcquireCamera(SyntheticCapture)
	mediaB.AcquireCamera(SyntheticCapture)

	outA := &recordSender{}
	poolA := NewLinkPool(webrtc.Configuration{}, mediaA, outA)
	poolA.SetRoom("room-1")
	t.Cleanup(poolA.CloseAll)

	outB := &recordSender{}
	poolB := NewLinkPool(webrtc.Configuration{}, mediaB, outB)
	poolB.SetRoom("room-1")
	t.Cleanup(poolB.CloseAll)

	poolA.OnRoomUsers([]domain.ConnID{"b"})
	offer := outA.lastSignal(t, protocol.TypeOffer)
	poolB.OnOffer("a", offer.Description)

	answer := outB.lastSignal(t, protocol.TypeAnswer)
	poolA.OnAnswer("b", answer.Description)

	require.Equal(t, LinkConnected, poolA.link("b").State())
}

func TestSwitchingSourceReplacesInsteadOfDuplicating(t *testing.T) {
	send := &recordSender{}
	link := mustLink(t, "b", send)

	needOffer, err := link.AttachSource(mustSynthetic(t, SourceCamera, true))
	require.NoError(t, err)
	require.True(t, needOffer, "first attach is structural")

	needOffer, err = link.AttachSource(mustSynthetic(t, SourceScreen, true))
	require.NoError(t, err)
	require.False(t, needOffer, "same-shape switch is an in-place replace")

	audio, video := link.Senders()
	require.Equal(t, 1, audio)
	require.Equal(t, 1, video)
}

func TestSwitchingToAudioOnlyDropsVideoSlot(t *testing.T) {
	send := &recordSender{}
	link := mustLink(t, "b", send)

	_, err := link.AttachSource(mustSynthetic(t, SourceCamera, true))
	require.NoError(t, err)

	needOffer, err := link.AttachSource(mustSynthetic(t, SourceCamera, false))
	require.NoError(t, err)
	require.True(t, needOffer, "losing the video track is structural")

	audio, video := link.Senders()
	require.Equal(t, 1, audio)
	require.Zero(t, video)
}

func TestMuteTogglesNeverSignal(t *testing.T) {
	media := NewLocalMedia()
	media.AcquireCamera(SyntheticCapture)

	out := &recordSender{}
	pool := NewLinkPool(webrtc.Configuration{}, media, out)
	pool.SetRoom("room-1")
	t.Cleanup(pool.CloseAll)
	pool.OnRoomUsers([]domain.ConnID{"b"})
	before := len(out.signals(protocol.TypeOffer))

	for i := 0; i < 10; i++ {
		media.SetAudioEnabled(i%2 == 0)
		media.SetVideoEnabled(i%2 != 0)
	}

	require.Len(t, out.signals(protocol.TypeOffer), before, "mute is a flag, not a renegotiation")
	require.False(t, media.AudioEnabled())
	require.True(t, media.VideoEnabled())
}

func TestPeerLeftClosesOnlyThatLink(t *testing.T) {
	media := NewLocalMedia()
	out := &recordSender{}
	pool := NewLinkPool(webrtc.Configuration{}, media, out)
	pool.SetRoom("room-1")
	t.Cleanup(pool.CloseAll)

	pool.OnUserJoined("p1")
	pool.OnUserJoined("p2")
	gone := pool.link("p1")

	pool.OnUserLeft("p1")
	require.Equal(t, LinkClosed, gone.State())
	require.Nil(t, pool.link("p1"))
	require.NotNil(t, pool.link("p2"))
	require.NotEqual(t, LinkClosed, pool.link("p2").State())
}

func TestCloseIsIdempotent(t *testing.T) {
	send := &recordSender{}
	link := mustLink(t, "b", send)
	link.Close()
	link.Close()
	require.Equal(t, LinkClosed, link.State())
}

func TestCameraFallsBackToAudioOnly(t *testing.T) {
	media := NewLocalMedia()
	src := media.AcquireCamera(func(kind SourceKind, withVideo bool) (*MediaSource, error) {
		if withVideo {
			return nil, ErrNoCapture
		}
		return SyntheticCapture(kind, false)
	})
	require.NotNil(t, src)
	require.NotNil(t, src.Audio)
	require.Nil(t, src.Video)
	require.Same(t, src, media.Active())
}

func TestCaptureFailureJoinsReceiveOnly(t *testing.T) {
	media := NewLocalMedia()
	src := media.AcquireCamera(func(SourceKind, bool) (*MediaSource, error) {
		return nil, ErrNoCapture
	})
	require.Nil(t, src)
	require.Nil(t, media.Active())
}

func TestStopScreenReinstatesCamera(t *testing.T) {
	media := NewLocalMedia()
	cam := media.AcquireCamera(SyntheticCapture)
	require.NotNil(t, cam)

	screen, err := media.StartScreen(SyntheticCapture)
	require.NoError(t, err)
	require.Same(t, screen, media.Active())

	require.Same(t, cam, media.StopScreen())
	require.Same(t, cam, media.Active(), "camera capture survived the share")
}

func TestReceiveOnlyParticipantStillOffers(t *testing.T) {
	media := NewLocalMedia()

	out := &recordSender{}
	pool := NewLinkPool(webrtc.Configuration{}, media, out)
	pool.SetRoom("room-1")
	t.Cleanup(pool.CloseAll)
	pool.OnRoomUsers([]domain.ConnID{"b"})

	require.Len(t, out.signals(protocol.TypeOffer), 1, "no capture still negotiates, receive-only")
	audio, video := pool.link("b").Senders()
	require.Zero(t, audio)
	require.Zero(t, video)
}

func TestInviteInbox(t *testing.T) {
	in := NewInviteInbox()
	in.Add(protocol.MeetingInvite{Type: protocol.TypeMeetingInvite, RoomID: "r1", InviterDisplayName: "Ada"})
	in.Add(protocol.MeetingInvite{Type: protocol.TypeMeetingInvite, RoomID: "r1", InviterDisplayName: "Grace"})
	in.Add(protocol.MeetingInvite{Type: protocol.TypeMeetingInvite, RoomID: "r2", InviterDisplayName: "Ada"})
	require.Len(t, in.Pending(), 2, "same-room invites collapse")

	inv, ok := in.Accept("r1")
	require.True(t, ok)
	require.Equal(t, "Grace", inv.InviterDisplayName, "latest invite wins")
	_, ok = in.Accept("r1")
	require.False(t, ok)

	in.Dismiss("r2")
	require.Empty(t, in.Pending())
}
