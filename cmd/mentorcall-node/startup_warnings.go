package main

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"mentorcall/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none connects to the signaling server without credentials",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && signalingSchemeIsCleartext(cfg.SignalingURL) {
		logger.Warn("startup security warning: signaling URL uses ws:// while --mode=prod (SDP and candidates travel in cleartext)",
			"warning_code", "signaling_cleartext_in_prod",
			"signaling_host", safeURLHost(cfg.SignalingURL),
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /v1/ice will report the error and calls may fail behind NAT",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	// Long-lived TURN REST credentials defeat the point of minting them per
	// request.
	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds > int64((24*time.Hour).Seconds()) {
		logger.Warn("startup security warning: TURN_REST_TTL_SECONDS exceeds 24h (weakens ephemeral credential rotation)",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			"mode", cfg.Mode,
		)
	}

	if cfg.RingTimeout > 2*time.Minute {
		logger.Warn("startup warning: RING_TIMEOUT is very large (unanswered calls hold media and signaling state for longer)",
			"warning_code", "ring_timeout_large",
			"ring_timeout", cfg.RingTimeout,
			"mode", cfg.Mode,
		)
	}
}

func signalingSchemeIsCleartext(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "ws")
}
