package signal

// EventType distinguishes what a transport subscription delivers.
type EventType string

const (
	// EventMessage carries one inbound signaling message.
	EventMessage EventType = "message"
	// EventDisconnected signals that the transport lost its connection. The
	// engine force-ends active sessions on receipt; reconnection is the
	// transport owner's problem, not the engine's.
	EventDisconnected EventType = "disconnected"
)

type Event struct {
	Type EventType
	Msg  Message
}

// Transport is the bidirectional signaling channel between this node and its
// peers. Implementations must deliver messages for a given sender in send
// order once connected.
//
// An empty targetID broadcasts to every reachable peer; this is used for
// group room announcements.
type Transport interface {
	Send(targetID string, msg Message) error
	// Subscribe registers a listener and returns its event channel plus a
	// cancel func. Multiple subscribers each receive every event.
	Subscribe() (<-chan Event, func())
}
