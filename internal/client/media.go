package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type SourceKind int

const (
	SourceCamera SourceKind = iota
	SourceScreen
)

func (k SourceKind) String() string {
	if k == SourceScreen {
		return "screen"
	}
	return "camera"
}

// MediaSource is one capture: camera/microphone or screen. Either track
// may be nil (audio-only camera, silent screen share).
type MediaSource struct {
	Kind  SourceKind
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

// CaptureFunc acquires a capture device. withVideo=false requests an
// audio-only capture. The real capturer lives in the embedding
// application; tests and the CLI use synthetic sources.
type CaptureFunc func(kind SourceKind, withVideo bool) (*MediaSource, error)

var ErrNoCapture = errors.New("no capture available")

// LocalMedia owns the participant's outgoing media. At most one source
// is active at a time; the camera capture is a singleton that survives
// a switch to screen share so rapid toggling never re-acquires the
// device. Mute state is a pair of flags, not a device operation.
type LocalMedia struct {
	mu           sync.RWMutex
	camera       *MediaSource
	screen       *MediaSource
	active       *MediaSource
	audioEnabled bool
	videoEnabled bool
}

func NewLocalMedia() *LocalMedia {
	return &LocalMedia{audioEnabled: true, videoEnabled: true}
}

// AcquireCamera obtains the camera source, degrading instead of
// failing: camera busy/denied falls back to audio-only, total failure
// leaves the participant receive-only. The join always proceeds.
func (m *LocalMedia) AcquireCamera(capture CaptureFunc) *MediaSource {
	src, err := capture(SourceCamera, true)
	if err == nil && src != nil {
		m.setCamera(src)
		return src
	}
	log.Warn().Err(err).Str("module", "client.media").Msg("camera unavailable, trying audio-only")

	src, err = capture(SourceCamera, false)
	if err == nil && src != nil && src.Audio != nil {
		audioOnly := &MediaSource{Kind: SourceCamera, Audio: src.Audio}
		m.setCamera(audioOnly)
		return audioOnly
	}
	log.Warn().Err(err).Str("module", "client.media").Msg("capture failed entirely, joining receive-only")
	return nil
}

func (m *LocalMedia) setCamera(src *MediaSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera = src
	if m.active == nil {
		m.active = src
	}
}

// StartScreen activates a screen source. The camera capture is kept.
func (m *LocalMedia) StartScreen(capture CaptureFunc) (*MediaSource, error) {
	src, err := capture(SourceScreen, true)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.screen = src
	m.active = src
	m.mu.Unlock()
	return src, nil
}

// StopScreen deactivates screen share and reinstates the camera source.
func (m *LocalMedia) StopScreen() *MediaSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screen = nil
	m.active = m.camera
	return m.camera
}

func (m *LocalMedia) Active() *MediaSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SetAudioEnabled flips the mute flag. Deliberately touches no peer
// link and no device: toggling any number of times never renegotiates.
func (m *LocalMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	m.audioEnabled = enabled
	m.mu.Unlock()
}

func (m *LocalMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	m.videoEnabled = enabled
	m.mu.Unlock()
}

func (m *LocalMedia) AudioEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audioEnabled
}

func (m *LocalMedia) VideoEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.videoEnabled
}

// SyntheticCapture returns sample-backed tracks with no real device
// behind them. Used by the headless CLI and tests.
func SyntheticCapture(kind SourceKind, withVideo bool) (*MediaSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", kind.String(),
	)
	if err != nil {
		return nil, err
	}
	src := &MediaSource{Kind: kind, Audio: audio}
	if withVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", kind.String(),
		)
		if err != nil {
			return nil, err
		}
		src.Video = video
	}
	return src, nil
}
