package signal

import (
	"fmt"
	"sync"
)

// Bus is an in-process Transport hub that routes messages between named
// endpoints. It preserves per-sender ordering and fans events out to every
// subscriber of the target endpoint.
//
// It backs tests and single-process deployments; production nodes use the
// websocket client transport instead.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*Endpoint)}
}

// Endpoint returns the transport endpoint for peerID, creating it on first
// use.
func (b *Bus) Endpoint(peerID string) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[peerID]; ok {
		return ep
	}
	ep := &Endpoint{
		bus:    b,
		peerID: peerID,
		subs:   make(map[chan Event]struct{}),
	}
	b.endpoints[peerID] = ep
	return ep
}

// Disconnect delivers a disconnect event to every subscriber of peerID and
// removes the endpoint from the bus.
func (b *Bus) Disconnect(peerID string) {
	b.mu.Lock()
	ep, ok := b.endpoints[peerID]
	if ok {
		delete(b.endpoints, peerID)
	}
	b.mu.Unlock()
	if ok {
		ep.deliver(Event{Type: EventDisconnected})
	}
}

func (b *Bus) deliverTo(targetID string, msg Message) error {
	b.mu.RLock()
	ep, ok := b.endpoints[targetID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown peer %q", targetID)
	}
	ep.deliver(Event{Type: EventMessage, Msg: msg})
	return nil
}

func (b *Bus) broadcast(fromID string, msg Message) {
	b.mu.RLock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for id, ep := range b.endpoints {
		if id == fromID {
			continue
		}
		targets = append(targets, ep)
	}
	b.mu.RUnlock()
	for _, ep := range targets {
		ep.deliver(Event{Type: EventMessage, Msg: msg})
	}
}

// Endpoint is one peer's attachment to a Bus.
type Endpoint struct {
	bus    *Bus
	peerID string

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

var _ Transport = (*Endpoint)(nil)

func (e *Endpoint) Send(targetID string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if targetID == "" {
		e.bus.broadcast(e.peerID, msg)
		return nil
	}
	return e.bus.deliverTo(targetID, msg)
}

func (e *Endpoint) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

// deliver fans an event out to every subscriber. Delivery within one
// subscriber is strictly ordered; the per-subscriber buffer must be drained
// promptly or senders will block.
func (e *Endpoint) deliver(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		ch <- ev
	}
}
