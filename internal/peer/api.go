// Package peer wraps pion's PeerConnection behind the narrow surface the call
// engine needs: description negotiation, candidate application, track events
// and track-level toggles.
package peer

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"mentorcall/internal/config"
	"mentorcall/internal/media"
)

// Generous ICE timeouts so a brief NAT or relay hiccup does not terminate the
// call. The pion default disconnectedTimeout of 5s is too short for relay
// paths that stall during re-keying or failover.
const (
	iceDisconnectedTimeout = 30 * time.Second
	iceFailedTimeout       = 120 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// NewAPI builds the shared webrtc.API every call session's connection is
// created from: codecs from the media source, default interceptors, and the
// node's network settings.
func NewAPI(cfg config.Config, src media.Source, logger *slog.Logger) (*webrtc.API, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := src.Populate(mediaEngine); err != nil {
		return nil, fmt.Errorf("populate media engine: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: slogLoggerFactory{logger: logger.With(slog.String("component", "pion"))},
	}
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.WebRTCNAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost:
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.WebRTCNAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, candidateType)
	}

	// SettingEngine doesn't expose a "bind to one address" toggle; restrict
	// candidate gathering and socket binding via IPFilter instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
