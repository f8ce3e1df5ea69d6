package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"mentorcall/internal/metrics"
	"mentorcall/internal/signal"
)

// Session is the state machine for one call key. It is created on local call
// intent (outbound) or on receipt of an offer (inbound), mutated only through
// its methods, and removed from the engine when it reaches Ended.
//
// Side-effect ordering invariants:
//   - local media is acquired at most once per session;
//   - offers and answers are sent only after the local description has been
//     applied, never speculatively;
//   - candidates received before the remote description are buffered FIFO and
//     applied in arrival order once it lands.
type Session struct {
	eng      *Engine
	key      signal.CallKey
	peerID   string
	callType signal.CallType
	logger   *slog.Logger

	createdAt time.Time

	mu        sync.Mutex
	state     State
	conn      Connection
	hasMedia  bool
	pending   candidateQueue
	rawOffer  *signal.SessionDescription
	ringTimer Timer
}

func newSession(eng *Engine, key signal.CallKey, peerID string, callType signal.CallType) *Session {
	return &Session{
		eng:       eng,
		key:       key,
		peerID:    peerID,
		callType:  callType,
		logger:    eng.logger.With(slog.String("call_key", string(key)), slog.String("peer", peerID)),
		createdAt: eng.clock.Now(),
		state:     StateIdle,
	}
}

func (s *Session) Key() signal.CallKey       { return s.key }
func (s *Session) PeerID() string            { return s.peerID }
func (s *Session) CallType() signal.CallType { return s.callType }
func (s *Session) CreatedAt() time.Time      { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// start drives the outbound leg: media, connection, offer, ring timer. On
// failure everything acquired so far is torn down and the error returned; no
// call-ended is sent since the peer never heard from us.
func (s *Session) start() error {
	s.mu.Lock()
	next, ok := transition(s.state, eventStart)
	if !ok {
		s.mu.Unlock()
		return ErrInvalidState
	}

	stream, err := s.eng.lease.acquire(s.key, s.callType == signal.CallTypeVideo)
	if err != nil {
		s.state = StateEnded
		s.mu.Unlock()
		return err
	}
	s.hasMedia = true

	conn, err := s.eng.connect(s.key)
	if err != nil {
		s.failLocked()
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	s.conn = conn
	s.wireConn(conn)

	if err := conn.AddLocalTracks(stream); err != nil {
		s.failLocked()
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		s.failLocked()
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	// Local description is set; only now may the offer leave the node.
	if err := s.eng.sendDescription(signal.MessageTypeOffer, s.peerID, s.key, s.callType, offer); err != nil {
		s.failLocked()
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	from := s.state
	s.state = next
	s.armRingTimerLocked()
	s.mu.Unlock()

	s.eng.emitStateChange(s.change(from, next, ""))
	return nil
}

// ring moves a freshly created inbound session to Incoming(Ringing), holding
// the raw offer until the user accepts.
func (s *Session) ring(offer signal.SessionDescription) error {
	s.mu.Lock()
	next, ok := transition(s.state, eventRing)
	if !ok {
		s.mu.Unlock()
		return ErrInvalidState
	}
	from := s.state
	s.rawOffer = &offer
	s.state = next
	s.armRingTimerLocked()
	s.mu.Unlock()

	s.eng.emitStateChange(s.change(from, next, ""))
	return nil
}

// Accept promotes an inbound ringing session: acquires media, applies the
// held offer, drains buffered candidates in order, answers.
func (s *Session) Accept() error {
	s.mu.Lock()
	next, ok := transition(s.state, eventAccept)
	if !ok {
		s.mu.Unlock()
		return ErrInvalidState
	}

	stream, err := s.eng.lease.acquire(s.key, s.callType == signal.CallTypeVideo)
	if err != nil {
		if errors.Is(err, ErrMediaBusy) {
			// Refused, not torn down: the call keeps ringing and the user can
			// still decline it, the device is never stolen from the other call.
			s.mu.Unlock()
			return err
		}
		// The hardware itself refused (permission denied, no devices). Fatal
		// to this call; nothing to retry.
		s.mu.Unlock()
		s.end(EndReasonFailure, true)
		return err
	}
	s.hasMedia = true

	conn, err := s.eng.connect(s.key)
	if err != nil {
		s.mu.Unlock()
		s.end(EndReasonFailure, true)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	s.conn = conn
	s.wireConn(conn)

	if err := conn.AddLocalTracks(stream); err != nil {
		s.mu.Unlock()
		s.end(EndReasonFailure, true)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if err := conn.SetRemoteDescription(*s.rawOffer); err != nil {
		s.mu.Unlock()
		s.end(EndReasonFailure, true)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	s.rawOffer = nil
	s.applyPendingLocked(conn)

	answer, err := conn.CreateAnswer()
	if err != nil {
		s.mu.Unlock()
		s.end(EndReasonFailure, true)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if err := s.eng.sendDescription(signal.MessageTypeAnswer, s.peerID, s.key, s.callType, answer); err != nil {
		s.mu.Unlock()
		s.end(EndReasonFailure, true)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	from := s.state
	s.state = next
	s.stopRingTimerLocked()
	s.mu.Unlock()

	s.eng.emitStateChange(s.change(from, next, ""))
	return nil
}

// Decline ends a ringing call from the local side.
func (s *Session) Decline() {
	s.end(EndReasonDeclined, true)
}

// End terminates the session from the local side. Idempotent; a second call
// is a no-op and no duplicate call-ended is sent.
func (s *Session) End() {
	s.end(EndReasonLocal, true)
}

// receiveAnswer is legal from Outgoing(Ringing) or Connecting; anything else
// is a stale message and dropped by the engine before it gets here.
func (s *Session) receiveAnswer(desc signal.SessionDescription) error {
	s.mu.Lock()
	next, ok := transition(s.state, eventAnswerReceived)
	if !ok {
		s.mu.Unlock()
		metrics.SignalingDropped.WithLabelValues(metrics.DropReasonStale).Inc()
		return ErrInvalidState
	}
	conn := s.conn
	if err := conn.SetRemoteDescription(desc); err != nil {
		s.mu.Unlock()
		s.end(EndReasonFailure, true)
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	s.applyPendingLocked(conn)

	from := s.state
	s.state = next
	s.stopRingTimerLocked()
	s.mu.Unlock()

	if from != next {
		s.eng.emitStateChange(s.change(from, next, ""))
	}
	return nil
}

// receiveCandidate applies a remote candidate, or buffers it when the remote
// description has not landed yet. Legal in any non-terminal state.
func (s *Session) receiveCandidate(cand signal.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		metrics.SignalingDropped.WithLabelValues(metrics.DropReasonStale).Inc()
		return
	}
	if s.conn == nil || !s.conn.RemoteDescriptionSet() {
		s.pending.push(cand)
		metrics.CandidatesQueued.Inc()
		return
	}
	if err := s.conn.AddICECandidate(cand); err != nil {
		// One bad candidate doesn't kill the call; ICE works with whatever
		// paths remain.
		s.logger.Warn("failed to apply ice candidate", slog.String("error", err.Error()))
	}
}

// receiveCallEnded ends the session without echoing a call-ended back.
func (s *Session) receiveCallEnded() {
	s.end(EndReasonRemote, false)
}

// applyPendingLocked drains the candidate buffer in strict arrival order.
func (s *Session) applyPendingLocked(conn Connection) {
	for _, cand := range s.pending.drain() {
		if err := conn.AddICECandidate(cand); err != nil {
			s.logger.Warn("failed to apply buffered ice candidate", slog.String("error", err.Error()))
		}
	}
}

// SetAudioEnabled toggles the microphone in place; no renegotiation.
func (s *Session) SetAudioEnabled(enabled bool) error {
	conn, err := s.liveConn()
	if err != nil {
		return err
	}
	return conn.SetAudioEnabled(enabled)
}

// SetVideoEnabled toggles the camera feed in place.
func (s *Session) SetVideoEnabled(enabled bool) error {
	conn, err := s.liveConn()
	if err != nil {
		return err
	}
	return conn.SetVideoEnabled(enabled)
}

// ReplaceVideoTrack swaps the outgoing video source (screen share). Track
// replace only, never a renegotiation.
func (s *Session) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	conn, err := s.liveConn()
	if err != nil {
		return err
	}
	return conn.ReplaceVideoTrack(track)
}

func (s *Session) liveConn() (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.conn == nil {
		return nil, ErrInvalidState
	}
	return s.conn, nil
}

func (s *Session) wireConn(conn Connection) {
	conn.OnLocalCandidate(func(cand signal.Candidate) {
		s.eng.sendCandidate(s.peerID, s.key, s.callType, cand)
	})
	conn.OnRemoteTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.handleRemoteTrack(track, receiver)
	})
	conn.OnConnectionState(nil, func() {
		s.endIf(func(st State) bool { return !st.Terminal() }, EndReasonTransport, true)
	})
}

// handleRemoteTrack promotes Connecting to Active on the first remote media
// event; later tracks only fan out.
func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	s.mu.Lock()
	from := s.state
	next, promoted := transition(s.state, eventRemoteTrack)
	if promoted {
		s.state = next
	}
	terminal := s.state.Terminal()
	s.mu.Unlock()

	if terminal {
		return
	}
	if promoted {
		s.eng.emitStateChange(s.change(from, next, ""))
	}
	s.eng.emitRemoteTrack(RemoteTrack{Key: s.key, PeerID: s.peerID, Track: track, Receiver: receiver})
}

func (s *Session) armRingTimerLocked() {
	s.ringTimer = s.eng.clock.AfterFunc(s.eng.ringTimeout, func() {
		timedOut := s.endIf(State.Ringing, EndReasonRingTimeout, true)
		if timedOut {
			metrics.RingTimeouts.Inc()
		}
	})
}

func (s *Session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) end(reason EndReason, notifyPeer bool) {
	s.endIf(func(st State) bool { return !st.Terminal() }, reason, notifyPeer)
}

// endIf runs the terminal transition iff cond holds for the current state,
// atomically, so a ring timeout can never kill a call that just connected.
// Media is released exactly once, queued candidates discarded, and the peer
// notified unless the end was itself triggered by their call-ended.
func (s *Session) endIf(cond func(State) bool, reason EndReason, notifyPeer bool) bool {
	s.mu.Lock()
	if !cond(s.state) {
		s.mu.Unlock()
		return false
	}
	from := s.state
	next, ok := transition(s.state, eventEnd)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.stopRingTimerLocked()
	s.pending.clear()
	s.rawOffer = nil
	conn := s.conn
	s.conn = nil
	if s.hasMedia {
		s.eng.lease.release(s.key)
		s.hasMedia = false
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if notifyPeer {
		s.eng.sendCallEnded(s.peerID, s.key, s.callType)
	}
	s.eng.removeSession(s.key, s)
	metrics.CallsEnded.WithLabelValues(string(reason)).Inc()
	s.eng.emitStateChange(s.change(from, next, reason))
	return true
}

// failLocked tears down a session that never got off the ground. Called with
// s.mu held on the start path; releases the lock.
func (s *Session) failLocked() {
	s.state = StateEnded
	s.stopRingTimerLocked()
	conn := s.conn
	s.conn = nil
	if s.hasMedia {
		s.eng.lease.release(s.key)
		s.hasMedia = false
	}
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Session) change(from, to State, reason EndReason) StateChange {
	return StateChange{
		Key:      s.key,
		PeerID:   s.peerID,
		CallType: s.callType,
		From:     from,
		To:       to,
		Reason:   reason,
	}
}
