package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mentorcall/internal/call"
	"mentorcall/internal/group"
	"mentorcall/internal/signal"
)

const (
	// A subscriber that cannot drain this many events is dropped rather than
	// allowed to stall the publishers.
	eventBufferSize = 64

	eventKeepaliveInterval = 15 * time.Second
)

type serverEvent struct {
	name string
	data any
}

type stateChangedEvent struct {
	Key      signal.CallKey  `json:"callKey"`
	PeerID   string          `json:"peerId"`
	CallType signal.CallType `json:"callType"`
	From     call.State      `json:"from"`
	To       call.State      `json:"newState"`
	Reason   call.EndReason  `json:"reason,omitempty"`
}

type groupStartedEvent struct {
	RoomID      string          `json:"roomId"`
	StarterID   string          `json:"starterId"`
	StarterName string          `json:"starterName,omitempty"`
	CallType    signal.CallType `json:"callType"`
}

// eventStream fans call and room events out to /v1/events subscribers.
type eventStream struct {
	mu   sync.Mutex
	subs map[chan serverEvent]struct{}
}

func newEventStream() *eventStream {
	return &eventStream{subs: make(map[chan serverEvent]struct{})}
}

func (es *eventStream) attach(engine *call.Engine, coordinator *group.Coordinator) {
	if engine != nil {
		engine.OnStateChange(func(change call.StateChange) {
			es.publish(serverEvent{name: "state-changed", data: stateChangedEvent{
				Key:      change.Key,
				PeerID:   change.PeerID,
				CallType: change.CallType,
				From:     change.From,
				To:       change.To,
				Reason:   change.Reason,
			}})
		})
		engine.OnIncoming(func(req call.IncomingCall) {
			es.publish(serverEvent{name: "incoming-call", data: pendingCallView{
				Key:        req.Key,
				SenderID:   req.SenderID,
				SenderName: req.SenderName,
				CallType:   req.CallType,
			}})
		})
	}
	if coordinator != nil {
		coordinator.OnStarted(func(a group.Announcement) {
			es.publish(serverEvent{name: "group-call-started", data: groupStartedEvent{
				RoomID:      a.RoomID,
				StarterID:   a.StarterID,
				StarterName: a.StarterName,
				CallType:    a.CallType,
			}})
		})
	}
}

func (es *eventStream) publish(ev serverEvent) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for ch := range es.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is wedged; cut it loose.
			delete(es.subs, ch)
			close(ch)
		}
	}
}

func (es *eventStream) subscribe() (<-chan serverEvent, func()) {
	ch := make(chan serverEvent, eventBufferSize)
	es.mu.Lock()
	es.subs[ch] = struct{}{}
	es.mu.Unlock()
	return ch, func() {
		es.mu.Lock()
		if _, ok := es.subs[ch]; ok {
			delete(es.subs, ch)
			close(ch)
		}
		es.mu.Unlock()
	}
}

// handleEvents streams state-changed, incoming-call and group-call-started
// events as server-sent events until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	events, cancel := s.events.subscribe()
	defer cancel()

	keepalive := time.NewTicker(eventKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.data)
			if err != nil {
				s.log.Warn("failed to encode event", "event", ev.name, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
