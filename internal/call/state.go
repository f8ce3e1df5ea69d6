package call

// State is the single source of truth for a session's lifecycle. Illegal
// transitions are rejected by the transition table below rather than by
// scattered boolean flags.
type State string

const (
	StateIdle            State = "idle"
	StateOutgoingRinging State = "outgoing_ringing"
	StateIncomingRinging State = "incoming_ringing"
	StateConnecting      State = "connecting"
	StateActive          State = "active"
	StateEnded           State = "ended"
)

func (s State) Terminal() bool { return s == StateEnded }

func (s State) Ringing() bool {
	return s == StateOutgoingRinging || s == StateIncomingRinging
}

// eventKind is a lifecycle input, local intent or signaling event alike.
type eventKind string

const (
	eventStart          eventKind = "start"
	eventRing           eventKind = "ring"
	eventAccept         eventKind = "accept"
	eventAnswerReceived eventKind = "answer_received"
	eventRemoteTrack    eventKind = "remote_track"
	eventEnd            eventKind = "end"
)

// transition is the pure legality table: (state, event) -> next state. The
// second return is false when the event is illegal in that state.
func transition(s State, ev eventKind) (State, bool) {
	switch ev {
	case eventStart:
		if s == StateIdle {
			return StateOutgoingRinging, true
		}
	case eventRing:
		if s == StateIdle {
			return StateIncomingRinging, true
		}
	case eventAccept:
		if s == StateIncomingRinging {
			return StateConnecting, true
		}
	case eventAnswerReceived:
		if s == StateOutgoingRinging || s == StateConnecting {
			return StateConnecting, true
		}
	case eventRemoteTrack:
		if s == StateConnecting {
			return StateActive, true
		}
	case eventEnd:
		if !s.Terminal() {
			return StateEnded, true
		}
	}
	return s, false
}
