package media

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// StaticSource produces sample-fed tracks without touching any hardware. It
// backs tests and headless deployments where a caller pipes media in itself.
type StaticSource struct{}

var _ Source = StaticSource{}

func (StaticSource) Populate(engine *webrtc.MediaEngine) error {
	return engine.RegisterDefaultCodecs()
}

func (StaticSource) Capture(wantVideo bool) (*Stream, error) {
	id := uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+id, "mentorcall")
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}

	var video *webrtc.TrackLocalStaticSample
	if wantVideo {
		video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video-"+id, "mentorcall")
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
	}

	if video != nil {
		return NewStream(audio, video, nil), nil
	}
	return NewStream(audio, nil, nil), nil
}
