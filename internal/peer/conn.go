package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"mentorcall/internal/media"
	"mentorcall/internal/signal"
)

// ErrNoRemoteDescription is returned by AddICECandidate before a remote
// description has been applied. Callers buffer candidates until then.
var ErrNoRemoteDescription = errors.New("no remote description set")

// Conn owns one PeerConnection for one call session. All negotiation goes
// through it; descriptions are set locally before they are handed back for
// sending, never speculatively.
type Conn struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu          sync.Mutex
	remoteSet   bool
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	audioTrack  webrtc.TrackLocal
	videoTrack  webrtc.TrackLocal

	closeOnce sync.Once
	closeErr  error
}

func NewConn(api *webrtc.API, iceServers []webrtc.ICEServer, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Conn{pc: pc, logger: logger}, nil
}

// AddLocalTracks attaches the stream's tracks. With a nil stream (no local
// media available) recvonly transceivers are added instead so the SDP still
// carries valid m-lines.
func (c *Conn) AddLocalTracks(stream *media.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stream != nil {
		for _, track := range stream.Tracks() {
			sender, err := c.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add %s track: %w", track.Kind(), err)
			}
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				c.audioSender, c.audioTrack = sender, track
			case webrtc.RTPCodecTypeVideo:
				c.videoSender, c.videoTrack = sender, track
			}
		}
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if kind == webrtc.RTPCodecTypeAudio && c.audioSender != nil {
			continue
		}
		if kind == webrtc.RTPCodecTypeVideo && c.videoSender != nil {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// CreateOffer sets the local description and returns it for sending.
func (c *Conn) CreateOffer() (signal.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return signal.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return signal.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return signal.DescriptionFromPion(offer), nil
}

// CreateAnswer sets the local description and returns it for sending. The
// remote offer must already be applied.
func (c *Conn) CreateAnswer() (signal.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return signal.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return signal.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return signal.DescriptionFromPion(answer), nil
}

func (c *Conn) SetRemoteDescription(desc signal.SessionDescription) error {
	pionDesc, err := desc.ToPion()
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(pionDesc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.mu.Lock()
	c.remoteSet = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) RemoteDescriptionSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

// AddICECandidate applies one remote candidate. Candidates arriving before
// the remote description must be buffered by the caller; applying them here
// early would fail inside pion anyway.
func (c *Conn) AddICECandidate(cand signal.Candidate) error {
	if !c.RemoteDescriptionSet() {
		return ErrNoRemoteDescription
	}
	if err := c.pc.AddICECandidate(cand.ToPion()); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// OnLocalCandidate registers the trickle-ICE callback. The final nil
// candidate pion emits at end of gathering is filtered out.
func (c *Conn) OnLocalCandidate(fn func(signal.Candidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(signal.CandidateFromPion(cand.ToJSON()))
	})
}

func (c *Conn) OnRemoteTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.pc.OnTrack(fn)
}

// OnConnectionState fires connected exactly once when the connection comes
// up and disconnected exactly once when it goes away for good.
func (c *Conn) OnConnectionState(connected, disconnected func()) {
	var connectedOnce, disconnectedOnce sync.Once
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("peer connection state", slog.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if connected != nil {
				connectedOnce.Do(connected)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if disconnected != nil {
				disconnectedOnce.Do(disconnected)
			}
		}
	})
}

// SetAudioEnabled mutes or unmutes the microphone by swapping the sender's
// track in place. No renegotiation happens.
func (c *Conn) SetAudioEnabled(enabled bool) error {
	c.mu.Lock()
	sender, track := c.audioSender, c.audioTrack
	c.mu.Unlock()
	return replaceSenderTrack(sender, track, enabled)
}

// SetVideoEnabled turns the camera feed on or off the same way.
func (c *Conn) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	sender, track := c.videoSender, c.videoTrack
	c.mu.Unlock()
	return replaceSenderTrack(sender, track, enabled)
}

// ReplaceVideoTrack swaps the outgoing video source, e.g. camera to screen
// capture. A track replace, not a renegotiation.
func (c *Conn) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	sender := c.videoSender
	c.mu.Unlock()
	if sender == nil {
		return errors.New("no video sender")
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	c.mu.Lock()
	c.videoTrack = track
	c.mu.Unlock()
	return nil
}

func replaceSenderTrack(sender *webrtc.RTPSender, track webrtc.TrackLocal, enabled bool) error {
	if sender == nil {
		return errors.New("no local track of that kind")
	}
	if !enabled {
		track = nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	return nil
}

// Close tears the connection down. Safe to call repeatedly and on a
// half-initialized connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.pc.Close()
	})
	return c.closeErr
}
