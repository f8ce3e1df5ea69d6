package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mentorcall/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return stringsJoin(h.groups, ".") + "." + k
}

func stringsJoin(parts []string, sep string) string {
	// Small local helper to avoid pulling in strings for tests that don't need it.
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_AuthModeNone(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:     config.ModeDev,
		AuthMode: config.AuthModeNone,
	}

	logStartupWarnings(logger, cfg)

	rec, found := warningCodes(records())["auth_mode_none"]
	if !found {
		t.Fatalf("expected warning_code=auth_mode_none, got %#v", records())
	}
	if rec.attrs["auth_mode"] != config.AuthModeNone {
		t.Fatalf("auth_mode attr = %#v, want %q", rec.attrs["auth_mode"], config.AuthModeNone)
	}
}

func TestStartupWarnings_CleartextSignalingInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:         config.ModeProd,
		AuthMode:     config.AuthModeToken,
		SignalingURL: "ws://signal.mentorcall.dev/ws",
	}

	logStartupWarnings(logger, cfg)

	rec, found := warningCodes(records())["signaling_cleartext_in_prod"]
	if !found {
		t.Fatalf("expected warning_code=signaling_cleartext_in_prod, got %#v", records())
	}
	if rec.attrs["signaling_host"] != "signal.mentorcall.dev" {
		t.Fatalf("signaling_host attr = %#v", rec.attrs["signaling_host"])
	}
}

func TestStartupWarnings_QuietOnSecureProdConfig(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:         config.ModeProd,
		AuthMode:     config.AuthModeJWT,
		SignalingURL: "wss://signal.mentorcall.dev/ws",
		RingTimeout:  30 * time.Second,
	}

	logStartupWarnings(logger, cfg)

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("expected no warnings, got %#v", codes)
	}
}

func TestStartupWarnings_TURNRESTTTLAndRingTimeout(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:         config.ModeProd,
		AuthMode:     config.AuthModeToken,
		SignalingURL: "wss://signal.mentorcall.dev/ws",
		RingTimeout:  5 * time.Minute,
		TURNREST: config.TurnRESTConfig{
			SharedSecret:   "secret",
			TTLSeconds:     int64((48 * time.Hour).Seconds()),
			UsernamePrefix: "mentorcall",
		},
	}

	logStartupWarnings(logger, cfg)

	codes := warningCodes(records())
	if _, ok := codes["turn_rest_ttl_large"]; !ok {
		t.Fatalf("expected warning_code=turn_rest_ttl_large, got %#v", codes)
	}
	if _, ok := codes["ring_timeout_large"]; !ok {
		t.Fatalf("expected warning_code=ring_timeout_large, got %#v", codes)
	}
}
