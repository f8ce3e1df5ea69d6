package call

import (
	"github.com/pion/webrtc/v4"

	"mentorcall/internal/media"
	"mentorcall/internal/signal"
)

// EndReason records why a session reached Ended.
type EndReason string

const (
	EndReasonLocal       EndReason = "local"
	EndReasonRemote      EndReason = "remote"
	EndReasonDeclined    EndReason = "declined"
	EndReasonRingTimeout EndReason = "ring_timeout"
	EndReasonTransport   EndReason = "transport_disconnected"
	EndReasonFailure     EndReason = "negotiation_failure"
)

// StateChange is emitted on every session transition.
type StateChange struct {
	Key      signal.CallKey
	PeerID   string
	CallType signal.CallType
	From     State
	To       State
	// Reason is set only when To is Ended.
	Reason EndReason
}

// IncomingCall is the ephemeral projection surfaced to the user while an
// inbound offer rings. It lives from offer receipt until accept, decline,
// timeout or a superseding call-ended.
type IncomingCall struct {
	Key        signal.CallKey
	SenderID   string
	SenderName string
	CallType   signal.CallType
}

// RemoteTrack is delivered when media starts flowing from the peer.
type RemoteTrack struct {
	Key      signal.CallKey
	PeerID   string
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// Connection is the slice of the peer connection surface a session drives.
// *peer.Conn satisfies it; tests substitute fakes.
type Connection interface {
	AddLocalTracks(stream *media.Stream) error
	CreateOffer() (signal.SessionDescription, error)
	CreateAnswer() (signal.SessionDescription, error)
	SetRemoteDescription(desc signal.SessionDescription) error
	RemoteDescriptionSet() bool
	AddICECandidate(cand signal.Candidate) error
	OnLocalCandidate(fn func(signal.Candidate))
	OnRemoteTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnectionState(connected, disconnected func())
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	Close() error
}

// ConnectionFactory builds the peer connection for a new session.
type ConnectionFactory func(key signal.CallKey) (Connection, error)
