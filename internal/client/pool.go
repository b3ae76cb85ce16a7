package client

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/skillmeet/meetcore/internal/domain"
)

// LinkPool holds one PeerLink per remote connection in the joined room
// and decides who offers. The rule is asymmetric: the newcomer offers
// to every member listed in room-users, and an incumbent seeing
// user-joined only prepares a link and waits for that newcomer's
// offer. Both sides offering at once would collide mid-negotiation.
type LinkPool struct {
	rtcCfg webrtc.Configuration
	media  *LocalMedia
	out    Sender

	mu    sync.Mutex
	room  domain.RoomID
	links map[domain.ConnID]*PeerLink
}

func NewLinkPool(rtcCfg webrtc.Configuration, media *LocalMedia, out Sender) *LinkPool {
	return &LinkPool{
		rtcCfg: rtcCfg,
		media:  media,
		out:    out,
		links:  make(map[domain.ConnID]*PeerLink),
	}
}

func (p *LinkPool) SetRoom(room domain.RoomID) {
	p.mu.Lock()
	p.room = room
	p.mu.Unlock()
}

func (p *LinkPool) ensureLink(remote domain.ConnID) (*PeerLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.links[remote]; ok {
		return l, nil
	}
	l, err := newPeerLink(remote, p.room, p.rtcCfg, p.out)
	if err != nil {
		return nil, err
	}
	p.links[remote] = l
	return l, nil
}

// OnRoomUsers runs the newcomer side of the handshake: one link and
// one offer per existing member, local media attached first so the
// offer already describes it.
func (p *LinkPool) OnRoomUsers(peers []domain.ConnID) {
	src := p.media.Active()
	for _, remote := range peers {
		l, err := p.ensureLink(remote)
		if err != nil {
			log.Error().Err(err).Str("module", "client.pool").Str("remote", string(remote)).Msg("link create failed")
			continue
		}
		if err := p.bindMedia(l, src); err != nil {
			log.Error().Err(err).Str("module", "client.pool").Str("remote", string(remote)).Msg("attach failed")
		}
		if err := l.SendOffer(); err != nil {
			log.Error().Err(err).Str("module", "client.pool").Str("remote", string(remote)).Msg("offer failed")
		}
	}
}

// OnUserJoined runs the incumbent side: prepare the link, do not
// offer. The joiner will.
func (p *LinkPool) OnUserJoined(remote domain.ConnID) {
	if _, err := p.ensureLink(remote); err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(remote)).Msg("link create failed")
	}
}

func (p *LinkPool) OnOffer(from domain.ConnID, desc json.RawMessage) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("bad offer payload")
		return
	}
	l, err := p.ensureLink(from)
	if err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("link create failed")
		return
	}
	if err := p.bindMedia(l, p.media.Active()); err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("attach failed")
	}
	if err := l.HandleOffer(sd); err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("offer handling failed")
	}
}

func (p *LinkPool) OnAnswer(from domain.ConnID, desc json.RawMessage) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("bad answer payload")
		return
	}
	l := p.link(from)
	if l == nil {
		log.Warn().Str("module", "client.pool").Str("remote", string(from)).Msg("answer from unknown peer")
		return
	}
	if err := l.HandleAnswer(sd); err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("answer handling failed")
	}
}

// OnCandidate routes a candidate to its link. A candidate may legally
// race ahead of the offer; the link's queue absorbs that.
func (p *LinkPool) OnCandidate(from domain.ConnID, raw json.RawMessage) {
	l, err := p.ensureLink(from)
	if err != nil {
		log.Error().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("link create failed")
		return
	}
	if err := l.HandleCandidate(raw); err != nil {
		log.Warn().Err(err).Str("module", "client.pool").Str("remote", string(from)).Msg("candidate rejected")
	}
}

// OnUserLeft tears down exactly one link; every other link is
// untouched.
func (p *LinkPool) OnUserLeft(remote domain.ConnID) {
	p.mu.Lock()
	l, ok := p.links[remote]
	delete(p.links, remote)
	p.mu.Unlock()
	if ok {
		l.Close()
		log.Info().Str("module", "client.pool").Str("remote", string(remote)).Msg("peer left, link closed")
	}
}

func (p *LinkPool) OnPeerInfo(remote domain.ConnID, displayName string) {
	if l := p.link(remote); l != nil {
		l.SetDisplayName(displayName)
	}
}

// SwitchSource rebinds every link to the given source. Links whose
// rebind was structural renegotiate; in-place replacements do not.
func (p *LinkPool) SwitchSource(src *MediaSource) {
	for _, l := range p.snapshot() {
		needOffer, err := l.AttachSource(src)
		if err != nil {
			log.Error().Err(err).Str("module", "client.pool").Str("remote", string(l.Remote())).Msg("source switch failed")
			continue
		}
		if needOffer {
			if err := l.SendOffer(); err != nil {
				log.Error().Err(err).Str("module", "client.pool").Str("remote", string(l.Remote())).Msg("renegotiation offer failed")
			}
		}
	}
}

// CloseAll tears down every link, on leave-room or shutdown.
func (p *LinkPool) CloseAll() {
	p.mu.Lock()
	links := p.links
	p.links = make(map[domain.ConnID]*PeerLink)
	p.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
}

// bindMedia attaches the active source, or receive-only transceivers
// when the participant has no capture at all.
func (p *LinkPool) bindMedia(l *PeerLink, src *MediaSource) error {
	if src == nil {
		return l.EnsureReceiveOnly()
	}
	_, err := l.AttachSource(src)
	return err
}

func (p *LinkPool) link(remote domain.ConnID) *PeerLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links[remote]
}

func (p *LinkPool) snapshot() []*PeerLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PeerLink, 0, len(p.links))
	for _, l := range p.links {
		out = append(out, l)
	}
	return out
}

// Peers lists the remote connections the pool currently tracks.
func (p *LinkPool) Peers() []domain.ConnID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ConnID, 0, len(p.links))
	for id := range p.links {
		out = append(out, id)
	}
	return out
}
