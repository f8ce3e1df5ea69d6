//go:build linux && cgo

package media

import (
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

const videoBitRate = 1_500_000

// DeviceSource captures camera and microphone through V4L2 and malgo,
// encoding VP8 video and Opus audio.
type DeviceSource struct {
	logger   *slog.Logger
	selector *mediadevices.CodecSelector
}

var _ Source = (*DeviceSource)(nil)

func NewDeviceSource(logger *slog.Logger) (*DeviceSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceSource{
		logger: logger.With(slog.String("component", "media")),
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *DeviceSource) Populate(engine *webrtc.MediaEngine) error {
	d.selector.Populate(engine)
	return nil
}

// Capture opens the devices, degrading stepwise: video+audio, then
// video-only, then audio-only. GetUserMedia fails as a unit if any requested
// track cannot be opened, so a busy microphone must not block the camera.
func (d *DeviceSource) Capture(wantVideo bool) (*Stream, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if wantVideo {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only. Some cameras expose an MJPEG node that
				// emits malformed frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			d.logger.Warn("media capture attempt failed",
				slog.String("attempt", a.label),
				slog.String("error", err.Error()))
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		var audio, video webrtc.TrackLocal
		for _, track := range tracks {
			track := track
			track.OnEnded(func(err error) {
				if err != nil {
					d.logger.Warn("local track ended",
						slog.String("kind", track.Kind().String()),
						slog.String("error", err.Error()))
				}
			})
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				audio = track
			case webrtc.RTPCodecTypeVideo:
				video = track
			}
		}

		d.logger.Info("local media captured",
			slog.String("attempt", a.label),
			slog.Int("tracks", len(tracks)))
		return NewStream(audio, video, func() {
			for _, t := range tracks {
				t.Close()
			}
		}), nil
	}

	return nil, wrapCaptureError(lastErr)
}
