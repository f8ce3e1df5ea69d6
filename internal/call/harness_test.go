package call

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"mentorcall/internal/media"
	"mentorcall/internal/signal"
)

// fakeClock drives ring timers deterministically. Advance fires every timer
// whose deadline has passed, in registration order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clk     *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeSource counts captures and releases so media-exactly-once invariants
// are checkable.
type fakeSource struct {
	mu       sync.Mutex
	captures int
	closes   int
	failWith error
}

func (f *fakeSource) Populate(*webrtc.MediaEngine) error { return nil }

func (f *fakeSource) Capture(bool) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.captures++
	return media.NewStream(nil, nil, func() {
		f.mu.Lock()
		f.closes++
		f.mu.Unlock()
	}), nil
}

func (f *fakeSource) counts() (captures, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures, f.closes
}

// fakeConn is a controllable Connection. Tests trigger remote tracks and
// disconnects through the captured callbacks.
type fakeConn struct {
	mu             sync.Mutex
	remoteSet      bool
	localSet       bool
	tracksAdded    bool
	applied        []signal.Candidate
	closed         int
	onLocalCand    func(signal.Candidate)
	onTrack        func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onConnected    func()
	onDisconnected func()

	offerErr     error
	answerErr    error
	setRemoteErr error
}

var _ Connection = (*fakeConn)(nil)

func (f *fakeConn) AddLocalTracks(*media.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracksAdded = true
	return nil
}

func (f *fakeConn) CreateOffer() (signal.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return signal.SessionDescription{}, f.offerErr
	}
	f.localSet = true
	return signal.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (f *fakeConn) CreateAnswer() (signal.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answerErr != nil {
		return signal.SessionDescription{}, f.answerErr
	}
	f.localSet = true
	return signal.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakeConn) SetRemoteDescription(signal.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.remoteSet = true
	return nil
}

func (f *fakeConn) RemoteDescriptionSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteSet
}

func (f *fakeConn) AddICECandidate(c signal.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remoteSet {
		return ErrNegotiation
	}
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakeConn) OnLocalCandidate(fn func(signal.Candidate)) { f.onLocalCand = fn }
func (f *fakeConn) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.onTrack = fn
}
func (f *fakeConn) OnConnectionState(connected, disconnected func()) {
	f.onConnected, f.onDisconnected = connected, disconnected
}

func (f *fakeConn) SetAudioEnabled(bool) error            { return nil }
func (f *fakeConn) SetVideoEnabled(bool) error            { return nil }
func (f *fakeConn) ReplaceVideoTrack(webrtc.TrackLocal) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) appliedCandidates() []signal.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signal.Candidate(nil), f.applied...)
}

func (f *fakeConn) fireRemoteTrack() { f.onTrack(nil, nil) }
func (f *fakeConn) fireDisconnected() {
	if f.onDisconnected != nil {
		f.onDisconnected()
	}
}

// connFactory hands out fakeConns and remembers them per key.
type connFactory struct {
	mu    sync.Mutex
	conns map[signal.CallKey]*fakeConn
	err   error
}

func newConnFactory() *connFactory {
	return &connFactory{conns: make(map[signal.CallKey]*fakeConn)}
}

func (cf *connFactory) create(key signal.CallKey) (Connection, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if cf.err != nil {
		return nil, cf.err
	}
	conn := &fakeConn{}
	cf.conns[key] = conn
	return conn, nil
}

func (cf *connFactory) conn(key signal.CallKey) *fakeConn {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.conns[key]
}

// node bundles one engine with its fakes on a shared bus.
type node struct {
	id      string
	engine  *Engine
	clock   *fakeClock
	source  *fakeSource
	factory *connFactory
}

func newNode(t *testing.T, bus *signal.Bus, id string) *node {
	t.Helper()
	n := &node{
		id:      id,
		clock:   newFakeClock(),
		source:  &fakeSource{},
		factory: newConnFactory(),
	}
	eng, err := NewEngine(Options{
		SelfID:    id,
		Transport: bus.Endpoint(id),
		Connect:   n.factory.create,
		Source:    n.source,
		Clock:     n.clock,
	})
	if err != nil {
		t.Fatalf("NewEngine(%s): %v", id, err)
	}
	n.engine = eng
	eng.Start()
	t.Cleanup(eng.Close)
	return n
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func sessionState(eng *Engine, key signal.CallKey) State {
	s, ok := eng.Session(key)
	if !ok {
		return StateEnded
	}
	return s.State()
}

// collectMessages subscribes a raw observer to an endpoint and returns a
// func that snapshots the messages of one type seen so far.
func collectMessages(t *testing.T, bus *signal.Bus, peerID string, msgType signal.MessageType) func() []signal.Message {
	t.Helper()
	events, cancel := bus.Endpoint(peerID).Subscribe()
	t.Cleanup(cancel)

	var mu sync.Mutex
	var got []signal.Message
	go func() {
		for ev := range events {
			if ev.Type == signal.EventMessage && ev.Msg.Type == msgType {
				mu.Lock()
				got = append(got, ev.Msg)
				mu.Unlock()
			}
		}
	}()
	return func() []signal.Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]signal.Message(nil), got...)
	}
}
