//go:build !linux || !cgo

package media

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// DeviceSource is a stub on platforms without capture drivers. Populate
// registers the default codecs so negotiation still works; Capture always
// reports the devices as unavailable and callers fall back to receive-only.
type DeviceSource struct {
	logger *slog.Logger
}

var _ Source = (*DeviceSource)(nil)

func NewDeviceSource(logger *slog.Logger) (*DeviceSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSource{logger: logger.With(slog.String("component", "media"))}, nil
}

func (d *DeviceSource) Populate(engine *webrtc.MediaEngine) error {
	return engine.RegisterDefaultCodecs()
}

func (d *DeviceSource) Capture(bool) (*Stream, error) {
	d.logger.Warn("media capture not supported on this platform")
	return nil, ErrMediaUnavailable
}
