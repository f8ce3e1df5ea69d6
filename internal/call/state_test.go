package call

import "testing"

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  State
		ev    eventKind
		want  State
		legal bool
	}{
		{StateIdle, eventStart, StateOutgoingRinging, true},
		{StateIdle, eventRing, StateIncomingRinging, true},
		{StateIncomingRinging, eventAccept, StateConnecting, true},
		{StateOutgoingRinging, eventAnswerReceived, StateConnecting, true},
		{StateConnecting, eventAnswerReceived, StateConnecting, true},
		{StateConnecting, eventRemoteTrack, StateActive, true},

		{StateIdle, eventEnd, StateEnded, true},
		{StateOutgoingRinging, eventEnd, StateEnded, true},
		{StateIncomingRinging, eventEnd, StateEnded, true},
		{StateConnecting, eventEnd, StateEnded, true},
		{StateActive, eventEnd, StateEnded, true},

		{StateActive, eventStart, StateActive, false},
		{StateOutgoingRinging, eventAccept, StateOutgoingRinging, false},
		{StateIncomingRinging, eventAnswerReceived, StateIncomingRinging, false},
		{StateActive, eventRemoteTrack, StateActive, false},
		{StateEnded, eventEnd, StateEnded, false},
		{StateEnded, eventStart, StateEnded, false},
		{StateEnded, eventRing, StateEnded, false},
	}
	for _, tc := range cases {
		got, legal := transition(tc.from, tc.ev)
		if got != tc.want || legal != tc.legal {
			t.Errorf("transition(%v, %v) = %v, %v; want %v, %v",
				tc.from, tc.ev, got, legal, tc.want, tc.legal)
		}
	}
}

func TestStatePredicates(t *testing.T) {
	if !StateEnded.Terminal() || StateActive.Terminal() {
		t.Fatalf("Terminal predicate wrong")
	}
	if !StateOutgoingRinging.Ringing() || !StateIncomingRinging.Ringing() {
		t.Fatalf("Ringing predicate wrong")
	}
	if StateConnecting.Ringing() || StateEnded.Ringing() {
		t.Fatalf("Ringing predicate too wide")
	}
}
