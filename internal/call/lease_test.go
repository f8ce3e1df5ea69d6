package call

import (
	"errors"
	"testing"

	"mentorcall/internal/signal"
)

func TestLeaseExclusiveAcrossOwners(t *testing.T) {
	src := &fakeSource{}
	l := newMediaLease(src)

	if _, err := l.acquire("user-user_1", false); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.acquire("user-user_2", false); !errors.Is(err, ErrMediaBusy) {
		t.Fatalf("err = %v, want ErrMediaBusy", err)
	}

	l.release("user-user_1")
	if _, err := l.acquire("user-user_2", false); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if caps, closes := src.counts(); caps != 2 || closes != 1 {
		t.Fatalf("captures/closes = %d/%d", caps, closes)
	}
}

func TestLeaseSharedAcrossRoomLegs(t *testing.T) {
	src := &fakeSource{}
	l := newMediaLease(src)

	legBob := signal.RoomPairKey("G1", "bob")
	legCarol := signal.RoomPairKey("G1", "carol")

	s1, err := l.acquire(legBob, true)
	if err != nil {
		t.Fatalf("acquire leg 1: %v", err)
	}
	s2, err := l.acquire(legCarol, true)
	if err != nil {
		t.Fatalf("acquire leg 2: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("room legs got distinct streams")
	}
	if caps, _ := src.counts(); caps != 1 {
		t.Fatalf("hardware captured %d times, want 1", caps)
	}

	// A different room must not share the stream.
	if _, err := l.acquire(signal.RoomPairKey("G2", "bob"), true); !errors.Is(err, ErrMediaBusy) {
		t.Fatalf("err = %v, want ErrMediaBusy", err)
	}

	l.release(legBob)
	if _, closes := src.counts(); closes != 0 {
		t.Fatalf("stream closed while a leg still holds it")
	}
	l.release(legCarol)
	if _, closes := src.counts(); closes != 1 {
		t.Fatalf("stream not closed after last leg released")
	}
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	src := &fakeSource{}
	l := newMediaLease(src)

	key := signal.CallKey("user-user_1")
	if _, err := l.acquire(key, false); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.release(key)
	l.release(key)
	l.release("user-user_9")
	if _, closes := src.counts(); closes != 1 {
		t.Fatalf("closes = %d, want 1", closes)
	}
}
