// Package media acquires and releases the local audio/video stream used for
// calls.
//
// A Source hands out Streams; the call engine is responsible for making sure
// only one context owns the hardware at a time. Stream.Close is idempotent so
// teardown races never release the devices twice.
package media

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrMediaUnavailable means no capture devices could be opened at all.
	ErrMediaUnavailable = errors.New("media devices unavailable")
	// ErrPermissionDenied means the platform refused access to the devices.
	ErrPermissionDenied = errors.New("media permission denied")
)

// wrapCaptureError classifies a device-open failure under the package
// sentinels. Permission refusals keep their own identity so callers can tell
// "access was denied" apart from "no usable device".
func wrapCaptureError(err error) error {
	if err == nil {
		return ErrMediaUnavailable
	}
	if errors.Is(err, os.ErrPermission) ||
		strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
}

// Source produces local media streams. Populate must register the codecs the
// source's tracks are encoded with on the media engine used to build peer
// connections.
type Source interface {
	Populate(engine *webrtc.MediaEngine) error
	// Capture opens the local devices. wantVideo requests a camera track in
	// addition to the microphone; implementations may degrade (for example to
	// audio-only) rather than fail outright.
	Capture(wantVideo bool) (*Stream, error)
}

// Stream is one acquired set of local tracks. Close releases the underlying
// devices exactly once no matter how many times it is called.
type Stream struct {
	audio webrtc.TrackLocal
	video webrtc.TrackLocal

	closeOnce sync.Once
	closeFn   func()
}

// NewStream wraps tracks plus a release func. Either track may be nil.
func NewStream(audio, video webrtc.TrackLocal, closeFn func()) *Stream {
	return &Stream{audio: audio, video: video, closeFn: closeFn}
}

func (s *Stream) AudioTrack() webrtc.TrackLocal { return s.audio }
func (s *Stream) VideoTrack() webrtc.TrackLocal { return s.video }

// Tracks returns the non-nil tracks in a stable order (audio first).
func (s *Stream) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}
