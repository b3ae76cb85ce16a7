package client

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/domain"
	"github.com/skillmeet/meetcore/internal/protocol"
)

// Sender pushes one signaling message toward the server. Implemented
// by Client; tests substitute a recorder.
type Sender interface {
	Send(v any) error
}

type LinkState int32

const (
	LinkNew LinkState = iota
	LinkOfferSent
	LinkOfferReceived
	LinkAnswerSent
	LinkConnected
	LinkRenegotiating
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOfferSent:
		return "offer_sent"
	case LinkOfferReceived:
		return "offer_received"
	case LinkAnswerSent:
		return "answer_sent"
	case LinkConnected:
		return "connected"
	case LinkRenegotiating:
		return "renegotiating"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerLink owns exactly one negotiation session with one remote
// connection: offer/answer exchange, candidate queuing, renegotiation
// on track changes and teardown. A failure on one link never touches
// any other link.
type PeerLink struct {
	remote domain.ConnID
	room   domain.RoomID
	out    Sender
	pc     *webrtc.PeerConnection

	mu           sync.Mutex
	state        LinkState
	remoteReady  bool
	queued       []webrtc.ICECandidateInit
	offerPending bool
	iceRestart   bool
	restarted    bool

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	recvOnly     bool
	displayName  string
	remoteTracks map[string]*webrtc.TrackRemote
}

func newPeerLink(remote domain.ConnID, room domain.RoomID, cfg webrtc.Configuration, out Sender) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &PeerLink{
		remote:       remote,
		room:         room,
		out:          out,
		pc:           pc,
		state:        LinkNew,
		remoteTracks: make(map[string]*webrtc.TrackRemote),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		_ = l.out.Send(protocol.Candidate{
			Type:               protocol.TypeICECandidate,
			RoomID:             l.room,
			TargetConnectionID: l.remote,
			Candidate:          raw,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.mergeRemoteTrack(track)
	})

	pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s == webrtc.SignalingStateStable {
			l.onStable()
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "client.link").Str("remote", string(remote)).Str("ice_state", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICEConnectionStateConnected:
			l.mu.Lock()
			if l.state != LinkClosed {
				l.state = LinkConnected
			}
			l.mu.Unlock()
		case webrtc.ICEConnectionStateFailed:
			l.restartOnce()
		}
	})

	return l, nil
}

func (l *PeerLink) Remote() domain.ConnID { return l.remote }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) SetDisplayName(name string) {
	l.mu.Lock()
	l.displayName = name
	l.mu.Unlock()
}

func (l *PeerLink) DisplayName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.displayName
}

// AttachSource binds the source's tracks to the outgoing slots.
// In-place replacement is preferred because it needs no renegotiation;
// only a first attach or a structural replace failure falls back to
// remove+add. Returns whether a new offer is required.
func (l *PeerLink) AttachSource(src *MediaSource) (bool, error) {
	if src == nil {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return false, nil
	}

	needOffer := false
	if src.Audio != nil {
		changed, err := l.attachSlotLocked(&l.audioSender, src.Audio)
		if err != nil {
			return needOffer, err
		}
		needOffer = needOffer || changed
	}
	if src.Video != nil {
		changed, err := l.attachSlotLocked(&l.videoSender, src.Video)
		if err != nil {
			return needOffer, err
		}
		needOffer = needOffer || changed
	} else if l.videoSender != nil {
		// Source lost its video (audio-only fallback): drop the slot.
		if err := l.pc.RemoveTrack(l.videoSender); err != nil {
			return needOffer, err
		}
		l.videoSender = nil
		needOffer = true
	}
	return needOffer, nil
}

// EnsureReceiveOnly gives a capture-less participant media sections to
// negotiate with, so joining without a camera still receives the room.
func (l *PeerLink) EnsureReceiveOnly() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recvOnly || l.audioSender != nil || l.videoSender != nil || l.state == LinkClosed {
		return nil
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := l.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	l.recvOnly = true
	return nil
}

func (l *PeerLink) attachSlotLocked(slot **webrtc.RTPSender, track webrtc.TrackLocal) (bool, error) {
	if *slot == nil {
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			return false, err
		}
		*slot = sender
		return true, nil
	}
	if err := (*slot).ReplaceTrack(track); err != nil {
		log.Warn().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("replace failed, falling back to remove+add")
		if err := l.pc.RemoveTrack(*slot); err != nil {
			return false, err
		}
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			*slot = nil
			return false, err
		}
		*slot = sender
		return true, nil
	}
	return false, nil
}

// SendOffer starts (or requests) a negotiation round. While a prior
// exchange is still in flight the offer is deferred, not abandoned,
// until the session returns to stable.
func (l *PeerLink) SendOffer() error {
	return l.requestOffer(false)
}

func (l *PeerLink) requestOffer(restart bool) error {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return nil
	}
	if restart {
		l.iceRestart = true
	}
	if l.pc.SignalingState() != webrtc.SignalingStateStable {
		l.offerPending = true
		if l.state == LinkConnected {
			l.state = LinkRenegotiating
		}
		l.mu.Unlock()
		return nil
	}
	doRestart := l.iceRestart
	l.iceRestart = false
	l.mu.Unlock()
	return l.sendOfferNow(doRestart)
}

func (l *PeerLink) sendOfferNow(restart bool) error {
	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	raw, err := json.Marshal(l.pc.LocalDescription())
	if err != nil {
		return err
	}

	l.mu.Lock()
	switch l.state {
	case LinkNew:
		l.state = LinkOfferSent
	case LinkConnected:
		l.state = LinkRenegotiating
	}
	l.mu.Unlock()

	return l.out.Send(protocol.Signal{
		Type:               protocol.TypeOffer,
		RoomID:             l.room,
		TargetConnectionID: l.remote,
		Description:        raw,
	})
}

// HandleOffer applies a remote offer and replies with an answer. On
// error the link keeps its last stable state; a transient glitch must
// not evict a working peer.
func (l *PeerLink) HandleOffer(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return nil
	}
	if l.state == LinkNew {
		l.state = LinkOfferReceived
	}
	l.mu.Unlock()

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.markRemoteReady()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	raw, err := json.Marshal(l.pc.LocalDescription())
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.state == LinkOfferReceived {
		l.state = LinkAnswerSent
	}
	l.mu.Unlock()

	return l.out.Send(protocol.Signal{
		Type:               protocol.TypeAnswer,
		RoomID:             l.room,
		TargetConnectionID: l.remote,
		Description:        raw,
	})
}

// HandleAnswer completes the round this side initiated.
func (l *PeerLink) HandleAnswer(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.markRemoteReady()

	l.mu.Lock()
	if l.state == LinkOfferSent || l.state == LinkRenegotiating {
		l.state = LinkConnected
	}
	l.mu.Unlock()
	return nil
}

// HandleCandidate applies a remote candidate, or queues it until the
// matching description has been accepted. Queued candidates are
// drained in arrival order; none is ever dropped to reordering.
func (l *PeerLink) HandleCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return err
	}
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return nil
	}
	if !l.remoteReady {
		l.queued = append(l.queued, ci)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(ci)
}

func (l *PeerLink) markRemoteReady() {
	l.mu.Lock()
	l.remoteReady = true
	drained := l.queued
	l.queued = nil
	l.mu.Unlock()

	for _, ci := range drained {
		if err := l.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("queued candidate rejected")
		}
	}
}

// onStable fires whenever the negotiation session returns to stable:
// the answerer's round is complete, and any deferred offer goes out.
func (l *PeerLink) onStable() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	if l.state == LinkAnswerSent || l.state == LinkRenegotiating {
		l.state = LinkConnected
	}
	pending := l.offerPending
	l.offerPending = false
	doRestart := l.iceRestart
	if pending {
		l.iceRestart = false
	}
	l.mu.Unlock()

	if pending {
		go func() {
			if err := l.sendOfferNow(doRestart); err != nil {
				log.Error().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("deferred offer failed")
			}
		}()
	}
}

// restartOnce makes a single non-destructive connectivity restart; a
// second failure waits for the broker's user-left to tear down.
func (l *PeerLink) restartOnce() {
	l.mu.Lock()
	if l.restarted || l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.restarted = true
	l.mu.Unlock()

	log.Warn().Str("module", "client.link").Str("remote", string(l.remote)).Msg("ICE failed, attempting restart")
	if err := l.requestOffer(true); err != nil {
		log.Error().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("ICE restart offer failed")
	}
}

// mergeRemoteTrack folds a newly arriving remote track into the
// existing view of the peer's media. Audio landing after video must
// not displace the video.
func (l *PeerLink) mergeRemoteTrack(track *webrtc.TrackRemote) {
	kind := track.Kind().String()
	l.mu.Lock()
	l.remoteTracks[kind] = track
	l.mu.Unlock()
	log.Info().Str("module", "client.link").Str("remote", string(l.remote)).Str("kind", kind).Msg("remote track merged")
}

// RemoteTracks returns the merged incoming media, keyed by kind.
func (l *PeerLink) RemoteTracks() map[string]*webrtc.TrackRemote {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*webrtc.TrackRemote, len(l.remoteTracks))
	for k, v := range l.remoteTracks {
		out[k] = v
	}
	return out
}

// Senders reports the current outgoing slot count, audio then video.
func (l *PeerLink) Senders() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	audio, video := 0, 0
	if l.audioSender != nil {
		audio++
	}
	if l.videoSender != nil {
		video++
	}
	return audio, video
}

// Close is idempotent and reachable from any state.
func (l *PeerLink) Close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.queued = nil
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "client.link").Str("remote", string(l.remote)).Msg("close error")
	}
}
