package config

import (
	"net"
	"strings"
	"testing"
)

// baseEnv carries the minimum a node needs to boot.
func baseEnv(extra map[string]string) func(string) (string, bool) {
	m := map[string]string{
		EnvSelfID:       "mentor_1",
		EnvSignalingURL: "ws://127.0.0.1:8080/ws",
	}
	for k, v := range extra {
		m[k] = v
	}
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(baseEnv(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.SelfID != "mentor_1" {
		t.Fatalf("SelfID=%q", cfg.SelfID)
	}
	// Display name falls back to the id.
	if cfg.SelfName != "mentor_1" {
		t.Fatalf("SelfName=%q", cfg.SelfName)
	}
	if cfg.RingTimeout != DefaultRingTimeout {
		t.Fatalf("RingTimeout=%v, want %v", cfg.RingTimeout, DefaultRingTimeout)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("AuthMode=%q, want %q", cfg.AuthMode, AuthModeNone)
	}
	if cfg.HistoryDBPath != DefaultHistoryDBPath {
		t.Fatalf("HistoryDBPath=%q, want %q", cfg.HistoryDBPath, DefaultHistoryDBPath)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.IPv4zero) {
		t.Fatalf("WebRTCUDPListenIP=%v, want 0.0.0.0", cfg.WebRTCUDPListenIP)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeHost {
		t.Fatalf("WebRTCNAT1To1IPCandidateType=%q, want %q", cfg.WebRTCNAT1To1IPCandidateType, NAT1To1CandidateTypeHost)
	}
	if cfg.SignalingWSPingInterval >= cfg.SignalingWSIdleTimeout {
		t.Fatalf("ping interval %v >= idle timeout %v", cfg.SignalingWSPingInterval, cfg.SignalingWSIdleTimeout)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError: %v", err)
	}
}

func TestRequiresSelfID(t *testing.T) {
	_, err := load(func(key string) (string, bool) {
		if key == EnvSignalingURL {
			return "ws://127.0.0.1:8080/ws", true
		}
		return "", false
	}, nil)
	if err == nil || !strings.Contains(err.Error(), EnvSelfID) {
		t.Fatalf("err=%v, expected mention of %s", err, EnvSelfID)
	}
}

func TestRequiresSignalingURL(t *testing.T) {
	_, err := load(func(key string) (string, bool) {
		if key == EnvSelfID {
			return "mentor_1", true
		}
		return "", false
	}, nil)
	if err == nil || !strings.Contains(err.Error(), EnvSignalingURL) {
		t.Fatalf("err=%v, expected mention of %s", err, EnvSignalingURL)
	}
}

func TestSignalingURL_ValidatesSchemeAndHost(t *testing.T) {
	for _, raw := range []string{"http://example.com/ws", "ws:///ws", "ws://user@example.com/ws"} {
		_, err := load(baseEnv(map[string]string{EnvSignalingURL: raw}), nil)
		if err == nil {
			t.Fatalf("expected error for %q, got nil", raw)
		}
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(baseEnv(nil), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(baseEnv(nil), []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestRingTimeout_EnvOverride(t *testing.T) {
	cfg, err := load(baseEnv(map[string]string{EnvRingTimeout: "45s"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.RingTimeout.Seconds(); got != 45 {
		t.Fatalf("RingTimeout=%v, want 45s", cfg.RingTimeout)
	}
}

func TestRingTimeout_RejectsZero(t *testing.T) {
	if _, err := load(baseEnv(nil), []string{"--ring-timeout", "0s"}); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestAuthModeToken_RequiresToken(t *testing.T) {
	_, err := load(baseEnv(map[string]string{"MENTORCALL_AUTH_MODE": "token"}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	cfg, err := load(baseEnv(map[string]string{
		"MENTORCALL_AUTH_MODE":       "token",
		"MENTORCALL_SIGNALING_TOKEN": "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalingToken != "s3cret" {
		t.Fatalf("SignalingToken=%q", cfg.SignalingToken)
	}
}

func TestAuthModeJWT_RequiresSecret(t *testing.T) {
	_, err := load(baseEnv(map[string]string{"MENTORCALL_AUTH_MODE": "jwt"}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	cfg, err := load(baseEnv(map[string]string{
		"MENTORCALL_AUTH_MODE":  "jwt",
		"MENTORCALL_JWT_SECRET": "hunter2",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeJWT {
		t.Fatalf("AuthMode=%q", cfg.AuthMode)
	}
}

func TestWebRTCUDPPortRange_RequiresBoth(t *testing.T) {
	_, err := load(baseEnv(map[string]string{EnvWebRTCUDPPortMin: "40000"}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestWebRTCUDPPortRange_TooSmall(t *testing.T) {
	_, err := load(baseEnv(map[string]string{
		EnvWebRTCUDPPortMin: "40000",
		EnvWebRTCUDPPortMax: "40010",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "too small") {
		t.Fatalf("err=%v, expected mention of too small range", err)
	}
}

func TestWebRTCUDPPortRange_OK(t *testing.T) {
	cfg, err := load(baseEnv(map[string]string{
		EnvWebRTCUDPPortMin: "40000",
		EnvWebRTCUDPPortMax: "40199",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil {
		t.Fatalf("expected WebRTCUDPPortRange set")
	}
	if cfg.WebRTCUDPPortRange.Min != 40000 || cfg.WebRTCUDPPortRange.Max != 40199 {
		t.Fatalf("WebRTCUDPPortRange=%+v", *cfg.WebRTCUDPPortRange)
	}
}

func TestWebRTCNAT1To1IPsAndCandidateType(t *testing.T) {
	cfg, err := load(baseEnv(map[string]string{
		EnvWebRTCNAT1To1IPs:             "203.0.113.10, 203.0.113.11",
		EnvWebRTCNAT1To1IPCandidateType: "srflx",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := len(cfg.WebRTCNAT1To1IPs), 2; got != want {
		t.Fatalf("len(WebRTCNAT1To1IPs)=%d, want %d", got, want)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeSrflx {
		t.Fatalf("WebRTCNAT1To1IPCandidateType=%q, want %q", cfg.WebRTCNAT1To1IPCandidateType, NAT1To1CandidateTypeSrflx)
	}
}

func TestWebRTCNAT1To1IPs_Invalid(t *testing.T) {
	if _, err := load(baseEnv(map[string]string{EnvWebRTCNAT1To1IPs: "nope"}), nil); err == nil {
		t.Fatalf("expected error, got nil")
	}
	if _, err := load(baseEnv(map[string]string{EnvWebRTCNAT1To1IPCandidateType: "nope"}), nil); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestWebRTCUDPListenIP(t *testing.T) {
	cfg, err := load(baseEnv(map[string]string{EnvWebRTCUDPListenIP: "10.0.0.123"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.ParseIP("10.0.0.123")) {
		t.Fatalf("WebRTCUDPListenIP=%v", cfg.WebRTCUDPListenIP)
	}

	if _, err := load(baseEnv(map[string]string{EnvWebRTCUDPListenIP: "bad.ip"}), nil); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestICEConfigErrorDeferred(t *testing.T) {
	// A broken ICE config must not prevent startup; the node can still call
	// on host candidates.
	cfg, err := load(baseEnv(map[string]string{
		"MENTORCALL_ICE_SERVERS_JSON": "not json",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected deferred ICE config error")
	}
}

func TestTURNRESTAllowsCredentiallessTURN(t *testing.T) {
	cfg, err := load(baseEnv(map[string]string{
		"MENTORCALL_TURN_URLS":               "turn:turn.mentorcall.dev:3478?transport=udp",
		"MENTORCALL_TURN_REST_SHARED_SECRET": "shh",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURNREST not enabled")
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError: %v", err)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%#v", cfg.ICEServers)
	}
}

func TestTURNRESTUsernamePrefixValidation(t *testing.T) {
	_, err := load(baseEnv(map[string]string{
		"MENTORCALL_TURN_REST_SHARED_SECRET":   "shh",
		"MENTORCALL_TURN_REST_USERNAME_PREFIX": "a:b",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}
