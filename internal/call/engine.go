package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mentorcall/internal/media"
	"mentorcall/internal/metrics"
	"mentorcall/internal/signal"
)

// DefaultRingTimeout bounds how long a session may stay ringing before it is
// cancelled automatically.
const DefaultRingTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	SelfID   string
	SelfName string

	Transport signal.Transport
	// Connect builds the peer connection for a new session.
	Connect ConnectionFactory
	// Source provides the local media stream.
	Source media.Source

	// RingTimeout overrides DefaultRingTimeout when positive.
	RingTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger

	// ResolveName, when set, maps a peer ID to a display name for incoming
	// call notifications.
	ResolveName func(peerID string) string
}

// Engine routes signaling events to per-key sessions and enforces the
// cross-session rules: one session per call key, exclusive media ownership,
// busy rejection, and stale-message discard.
type Engine struct {
	selfID      string
	selfName    string
	transport   signal.Transport
	connect     ConnectionFactory
	lease       *mediaLease
	clock       Clock
	logger      *slog.Logger
	ringTimeout time.Duration
	resolveName func(string) string

	mu       sync.Mutex
	sessions map[signal.CallKey]*Session
	closed   bool

	cbMu       sync.RWMutex
	onIncoming []func(IncomingCall)
	onState    []func(StateChange)
	onTrack    []func(RemoteTrack)

	unsubscribe func()
	loopDone    chan struct{}
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.SelfID == "" {
		return nil, errors.New("self id must not be empty")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	if opts.Connect == nil {
		return nil, errors.New("connection factory must not be nil")
	}
	if opts.Source == nil {
		return nil, errors.New("media source must not be nil")
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ringTimeout := opts.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}

	return &Engine{
		selfID:      opts.SelfID,
		selfName:    opts.SelfName,
		transport:   opts.Transport,
		connect:     opts.Connect,
		lease:       newMediaLease(opts.Source),
		clock:       clock,
		logger:      logger.With(slog.String("component", "call")),
		ringTimeout: ringTimeout,
		resolveName: opts.ResolveName,
		sessions:    make(map[signal.CallKey]*Session),
		loopDone:    make(chan struct{}),
	}, nil
}

// Start subscribes to the transport and begins dispatching events.
func (e *Engine) Start() {
	events, cancel := e.transport.Subscribe()
	e.unsubscribe = cancel
	go e.loop(events)
}

// Close force-ends every session and stops dispatching. Safe to call more
// than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	for _, s := range e.snapshotSessions() {
		s.End()
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
		<-e.loopDone
	}
}

// OnIncoming registers a listener for inbound ringing calls. Listeners fire
// for every offer regardless of which conversation is open.
func (e *Engine) OnIncoming(fn func(IncomingCall)) {
	e.cbMu.Lock()
	e.onIncoming = append(e.onIncoming, fn)
	e.cbMu.Unlock()
}

func (e *Engine) OnStateChange(fn func(StateChange)) {
	e.cbMu.Lock()
	e.onState = append(e.onState, fn)
	e.cbMu.Unlock()
}

func (e *Engine) OnRemoteTrack(fn func(RemoteTrack)) {
	e.cbMu.Lock()
	e.onTrack = append(e.onTrack, fn)
	e.cbMu.Unlock()
}

// StartCall initiates an outbound call to targetID on key. Exactly one
// session may hold the key; a second start is refused, never merged.
func (e *Engine) StartCall(targetID string, key signal.CallKey, callType signal.CallType) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if _, err := signal.ParseCallType(string(callType)); err != nil {
		return nil, err
	}
	if targetID == "" || targetID == e.selfID {
		return nil, fmt.Errorf("invalid call target %q", targetID)
	}

	s, err := e.insertSession(key, targetID, callType)
	if err != nil {
		return nil, err
	}
	metrics.CallsStarted.WithLabelValues("outgoing", string(callType)).Inc()

	if err := s.start(); err != nil {
		e.removeSession(key, s)
		return nil, err
	}
	return s, nil
}

// Session returns the active session for key, if any.
func (e *Engine) Session(key signal.CallKey) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[key]
	return s, ok
}

// Accept answers the ringing inbound call on key.
func (e *Engine) Accept(key signal.CallKey) error {
	s, ok := e.Session(key)
	if !ok {
		return ErrNoSession
	}
	return s.Accept()
}

// Decline rejects the ringing inbound call on key.
func (e *Engine) Decline(key signal.CallKey) error {
	s, ok := e.Session(key)
	if !ok {
		return ErrNoSession
	}
	s.Decline()
	return nil
}

// End terminates the call on key. Ending a key with no session is a no-op,
// matching the idempotent-teardown contract.
func (e *Engine) End(key signal.CallKey) {
	if s, ok := e.Session(key); ok {
		s.End()
	}
}

// SessionInfo is a point-in-time view of one session for the control surface.
type SessionInfo struct {
	Key       signal.CallKey  `json:"callKey"`
	PeerID    string          `json:"peerId"`
	CallType  signal.CallType `json:"callType"`
	State     State           `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Snapshot lists the active sessions.
func (e *Engine) Snapshot() []SessionInfo {
	sessions := e.snapshotSessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			Key:       s.Key(),
			PeerID:    s.PeerID(),
			CallType:  s.CallType(),
			State:     s.State(),
			CreatedAt: s.CreatedAt(),
		})
	}
	return out
}

func (e *Engine) snapshotSessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (e *Engine) insertSession(key signal.CallKey, peerID string, callType signal.CallType) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("engine closed")
	}
	if _, ok := e.sessions[key]; ok {
		return nil, ErrCallKeyBusy
	}
	s := newSession(e, key, peerID, callType)
	e.sessions[key] = s
	metrics.ActiveCalls.Inc()
	return s, nil
}

func (e *Engine) removeSession(key signal.CallKey, s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.sessions[key]; ok && cur == s {
		delete(e.sessions, key)
		metrics.ActiveCalls.Dec()
	}
}

func (e *Engine) loop(events <-chan signal.Event) {
	defer close(e.loopDone)
	for ev := range events {
		switch ev.Type {
		case signal.EventMessage:
			e.dispatch(ev.Msg)
		case signal.EventDisconnected:
			e.handleTransportDown()
			return
		}
	}
}

// handleTransportDown force-ends everything. No call-ended can reach the
// peers anyway; each side cleans up on its own.
func (e *Engine) handleTransportDown() {
	sessions := e.snapshotSessions()
	if len(sessions) > 0 {
		e.logger.Warn("signaling transport lost, ending active sessions",
			slog.Int("sessions", len(sessions)))
	}
	for _, s := range sessions {
		s.endIf(func(st State) bool { return !st.Terminal() }, EndReasonTransport, false)
	}
}

func (e *Engine) dispatch(msg signal.Message) {
	switch msg.Type {
	case signal.MessageTypeOffer, signal.MessageTypeAnswer,
		signal.MessageTypeCandidate, signal.MessageTypeCallEnded:
	default:
		// Group room announcements are the coordinator's concern.
		return
	}

	if msg.TargetID != "" && msg.TargetID != e.selfID {
		metrics.SignalingDropped.WithLabelValues(metrics.DropReasonNotForUs).Inc()
		return
	}

	key := e.localKey(msg)

	if msg.Type == signal.MessageTypeOffer {
		e.handleOffer(key, msg)
		return
	}

	s, ok := e.Session(key)
	if !ok {
		// Stale: the session is gone (or never existed) and this is not an
		// offer. Discard.
		metrics.SignalingDropped.WithLabelValues(metrics.DropReasonStale).Inc()
		e.logger.Debug("dropping stale signaling message",
			slog.String("type", string(msg.Type)),
			slog.String("call_key", string(key)))
		return
	}

	switch msg.Type {
	case signal.MessageTypeAnswer:
		_ = s.receiveAnswer(*msg.SDP)
	case signal.MessageTypeCandidate:
		s.receiveCandidate(*msg.Candidate)
	case signal.MessageTypeCallEnded:
		s.receiveCallEnded()
	}
}

// localKey maps a wire call key to this node's session slot. Pairwise group
// keys name the leg's remote peer, so a room key addressed to ourselves is
// rewritten to the sender; conversation keys pass through unchanged.
func (e *Engine) localKey(msg signal.Message) signal.CallKey {
	roomID, ok := msg.CallKey.RoomID()
	if !ok {
		return msg.CallKey
	}
	if msg.CallKey == signal.RoomPairKey(roomID, e.selfID) && msg.SenderID != "" {
		return signal.RoomPairKey(roomID, msg.SenderID)
	}
	return msg.CallKey
}

// handleOffer rings a new inbound session, or rejects the offer outright when
// the key is already held. The established session always wins; its state is
// never touched by a colliding offer.
func (e *Engine) handleOffer(key signal.CallKey, msg signal.Message) {
	if _, busy := e.Session(key); busy {
		metrics.OffersRejectedBusy.Inc()
		e.logger.Info("rejecting offer for busy call key",
			slog.String("call_key", string(key)),
			slog.String("sender", msg.SenderID))
		e.sendCallEnded(msg.SenderID, msg.CallKey, msg.CallType)
		return
	}

	s, err := e.insertSession(key, msg.SenderID, msg.CallType)
	if err != nil {
		// Lost the race to another offer on the same key.
		metrics.OffersRejectedBusy.Inc()
		e.sendCallEnded(msg.SenderID, msg.CallKey, msg.CallType)
		return
	}
	metrics.CallsStarted.WithLabelValues("incoming", string(msg.CallType)).Inc()

	if err := s.ring(*msg.SDP); err != nil {
		e.removeSession(key, s)
		return
	}

	incoming := IncomingCall{
		Key:      key,
		SenderID: msg.SenderID,
		CallType: msg.CallType,
	}
	if e.resolveName != nil {
		incoming.SenderName = e.resolveName(msg.SenderID)
	}
	e.cbMu.RLock()
	handlers := append([]func(IncomingCall){}, e.onIncoming...)
	e.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(incoming)
	}
}

func (e *Engine) emitStateChange(change StateChange) {
	e.cbMu.RLock()
	handlers := append([]func(StateChange){}, e.onState...)
	e.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(change)
	}
}

func (e *Engine) emitRemoteTrack(track RemoteTrack) {
	e.cbMu.RLock()
	handlers := append([]func(RemoteTrack){}, e.onTrack...)
	e.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(track)
	}
}

func (e *Engine) sendDescription(msgType signal.MessageType, targetID string, key signal.CallKey, callType signal.CallType, desc signal.SessionDescription) error {
	return e.transport.Send(targetID, signal.Message{
		Type:        msgType,
		SenderID:    e.selfID,
		TargetID:    targetID,
		ContactType: key.ContactType(),
		CallKey:     key,
		CallType:    callType,
		SDP:         &desc,
	})
}

func (e *Engine) sendCandidate(targetID string, key signal.CallKey, callType signal.CallType, cand signal.Candidate) {
	err := e.transport.Send(targetID, signal.Message{
		Type:        signal.MessageTypeCandidate,
		SenderID:    e.selfID,
		TargetID:    targetID,
		ContactType: key.ContactType(),
		CallKey:     key,
		CallType:    callType,
		Candidate:   &cand,
	})
	if err != nil {
		e.logger.Warn("failed to send ice candidate", slog.String("error", err.Error()))
	}
}

func (e *Engine) sendCallEnded(targetID string, key signal.CallKey, callType signal.CallType) {
	err := e.transport.Send(targetID, signal.Message{
		Type:        signal.MessageTypeCallEnded,
		SenderID:    e.selfID,
		TargetID:    targetID,
		ContactType: key.ContactType(),
		CallKey:     key,
		CallType:    callType,
	})
	if err != nil {
		e.logger.Warn("failed to send call-ended", slog.String("error", err.Error()))
	}
}
