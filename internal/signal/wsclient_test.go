package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mentorcall/internal/metrics"
)

// wsTestServer upgrades a single connection and exposes the inbound frames
// plus the request that opened it.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	conns    chan *websocket.Conn
	requests chan *http.Request
	frames   chan []byte
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{
		conns:    make(chan *websocket.Conn, 1),
		requests: make(chan *http.Request, 1),
		frames:   make(chan []byte, 16),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.requests <- r
		ts.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.frames <- data
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func dialTestClient(t *testing.T, ts *wsTestServer, opts WSClientOptions) *WSClient {
	t.Helper()
	opts.URL = ts.url()
	if opts.PeerID == "" {
		opts.PeerID = "alice"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := DialWS(ctx, opts)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWSClientSendsIdentityAndToken(t *testing.T) {
	ts := newWSTestServer(t)
	dialTestClient(t, ts, WSClientOptions{PeerID: "alice", Token: "secret"})

	r := <-ts.requests
	if got := r.URL.Query().Get("peer"); got != "alice" {
		t.Fatalf("peer query = %q", got)
	}
	if got := r.URL.Query().Get("token"); got != "secret" {
		t.Fatalf("token query = %q", got)
	}
}

func TestWSClientSendAndReceive(t *testing.T) {
	ts := newWSTestServer(t)
	c := dialTestClient(t, ts, WSClientOptions{PeerID: "alice"})

	events, cancel := c.Subscribe()
	defer cancel()

	if err := c.Send("bob", callEnded("alice", "bob")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case data := <-ts.frames:
		msg, err := ParseMessage(data)
		if err != nil {
			t.Fatalf("server got invalid frame: %v", err)
		}
		if msg.TargetID != "bob" {
			t.Fatalf("targetId = %q", msg.TargetID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received frame")
	}

	serverConn := <-ts.conns
	payload, err := EncodeMessage(callEnded("bob", "alice"))
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if err := serverConn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("server write: %v", err)
	}

	ev := recvEvent(t, events)
	if ev.Type != EventMessage || ev.Msg.SenderID != "bob" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestWSClientDropsInvalidInbound(t *testing.T) {
	ts := newWSTestServer(t)
	c := dialTestClient(t, ts, WSClientOptions{PeerID: "alice"})

	events, cancel := c.Subscribe()
	defer cancel()

	invalidBefore := testutil.ToFloat64(metrics.SignalingDropped.WithLabelValues(metrics.DropReasonInvalid))
	unsupportedBefore := testutil.ToFloat64(metrics.SignalingDropped.WithLabelValues(metrics.DropReasonUnsupported))

	serverConn := <-ts.conns
	// Malformed JSON, then a well-formed message of a type we don't speak.
	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	payload, err := EncodeMessage(callEnded("bob", "alice"))
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if err := serverConn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("server write: %v", err)
	}

	// The bad frames are dropped; the valid one still arrives.
	ev := recvEvent(t, events)
	if ev.Type != EventMessage || ev.Msg.Type != MessageTypeCallEnded {
		t.Fatalf("event = %+v", ev)
	}

	// Each drop is counted under its own reason.
	if got := testutil.ToFloat64(metrics.SignalingDropped.WithLabelValues(metrics.DropReasonInvalid)) - invalidBefore; got != 1 {
		t.Fatalf("invalid drops = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SignalingDropped.WithLabelValues(metrics.DropReasonUnsupported)) - unsupportedBefore; got != 1 {
		t.Fatalf("unsupported drops = %v, want 1", got)
	}
}

func TestWSClientDisconnectEvent(t *testing.T) {
	ts := newWSTestServer(t)
	c := dialTestClient(t, ts, WSClientOptions{PeerID: "alice"})

	events, cancel := c.Subscribe()
	defer cancel()

	serverConn := <-ts.conns
	_ = serverConn.Close()

	ev := recvEvent(t, events)
	if ev.Type != EventDisconnected {
		t.Fatalf("event = %+v", ev)
	}

	if err := c.Send("bob", callEnded("alice", "bob")); err == nil {
		t.Fatalf("expected send after disconnect to fail")
	}
}

func TestWSClientRateLimitDropsFlood(t *testing.T) {
	ts := newWSTestServer(t)
	c := dialTestClient(t, ts, WSClientOptions{PeerID: "alice", MaxMessagesPerSecond: 2})

	events, cancel := c.Subscribe()
	defer cancel()

	serverConn := <-ts.conns
	payload, err := EncodeMessage(callEnded("bob", "alice"))
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := serverConn.WriteMessage(websocket.TextMessage, payload); err != nil {
			t.Fatalf("server write %d: %v", i, err)
		}
	}

	got := 0
	deadline := time.After(500 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-events:
			if ev.Type == EventMessage {
				got++
			}
		case <-deadline:
			break loop
		}
	}
	if got == 0 || got >= 10 {
		t.Fatalf("delivered %d of 10 flooded messages, want some but not all", got)
	}
}
