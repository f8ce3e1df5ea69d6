package call

import (
	"log/slog"
	"sort"
	"sync"

	"mentorcall/internal/signal"
)

// Notifier is the process-wide surface for inbound ringing calls. It listens
// for every offer the engine accepts, independent of which conversation is
// currently open, so a call can be answered from anywhere. There is one
// session per call key underneath; the notifier only projects it.
type Notifier struct {
	eng    *Engine
	logger *slog.Logger

	mu      sync.Mutex
	pending map[signal.CallKey]IncomingCall

	cbMu      sync.RWMutex
	onRing    []func(IncomingCall)
	onCleared []func(signal.CallKey)
}

func NewNotifier(eng *Engine, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		eng:     eng,
		logger:  logger.With(slog.String("component", "notifier")),
		pending: make(map[signal.CallKey]IncomingCall),
	}
	eng.OnIncoming(n.handleIncoming)
	eng.OnStateChange(n.handleStateChange)
	return n
}

// Pending lists the calls currently ringing, ordered by call key.
func (n *Notifier) Pending() []IncomingCall {
	n.mu.Lock()
	out := make([]IncomingCall, 0, len(n.pending))
	for _, req := range n.pending {
		out = append(out, req)
	}
	n.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Accept answers a ringing call from the global surface. It drives the same
// session the focused conversation would.
func (n *Notifier) Accept(key signal.CallKey) error {
	return n.eng.Accept(key)
}

// Decline rejects a ringing call from the global surface.
func (n *Notifier) Decline(key signal.CallKey) error {
	return n.eng.Decline(key)
}

// OnRing registers a listener for new ringing calls.
func (n *Notifier) OnRing(fn func(IncomingCall)) {
	n.cbMu.Lock()
	n.onRing = append(n.onRing, fn)
	n.cbMu.Unlock()
}

// OnCleared registers a listener for calls that stopped ringing, whatever the
// cause: accept, decline, timeout or a superseding call-ended.
func (n *Notifier) OnCleared(fn func(signal.CallKey)) {
	n.cbMu.Lock()
	n.onCleared = append(n.onCleared, fn)
	n.cbMu.Unlock()
}

func (n *Notifier) handleIncoming(req IncomingCall) {
	n.mu.Lock()
	n.pending[req.Key] = req
	n.mu.Unlock()

	n.logger.Info("incoming call ringing",
		slog.String("call_key", string(req.Key)),
		slog.String("sender", req.SenderID),
		slog.String("call_type", string(req.CallType)))

	n.cbMu.RLock()
	handlers := append([]func(IncomingCall){}, n.onRing...)
	n.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(req)
	}
}

func (n *Notifier) handleStateChange(change StateChange) {
	if change.From != StateIncomingRinging || change.To == StateIncomingRinging {
		return
	}
	n.mu.Lock()
	_, had := n.pending[change.Key]
	delete(n.pending, change.Key)
	n.mu.Unlock()
	if !had {
		return
	}

	n.cbMu.RLock()
	handlers := append([]func(signal.CallKey){}, n.onCleared...)
	n.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(change.Key)
	}
}
