package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mentorcall/internal/metrics"
	"mentorcall/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	// Inbound messages that fail to parse are dropped, not fatal: a buggy or
	// hostile peer must not tear down the whole transport.
	defaultMaxMessageBytes = 64 << 10
	defaultPingInterval    = 20 * time.Second
	defaultIdleTimeout     = 60 * time.Second
)

// WSClientOptions configures a websocket signaling connection.
type WSClientOptions struct {
	// URL of the signaling server, ws:// or wss://.
	URL string
	// PeerID is this node's identity; sent as the peer query parameter.
	PeerID string
	// Token, when set, is sent as the token query parameter.
	Token string

	// MaxMessageBytes caps a single inbound frame. Zero uses the default.
	MaxMessageBytes int64
	// PingInterval and IdleTimeout drive the keepalive loop. Zero uses
	// defaults.
	PingInterval time.Duration
	IdleTimeout  time.Duration
	// MaxMessagesPerSecond bounds the inbound message rate; messages over the
	// budget are dropped. Zero disables the guard.
	MaxMessagesPerSecond int64

	Logger *slog.Logger
}

// WSClient is a Transport backed by a single websocket connection to a
// signaling server. The server is assumed to route by the targetId field and
// to fan an empty targetId out to every connected peer.
type WSClient struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan Event]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

var _ Transport = (*WSClient)(nil)

// DialWS connects to the signaling server and starts the read and keepalive
// loops. The returned client is ready to Send and Subscribe.
func DialWS(ctx context.Context, opts WSClientOptions) (*WSClient, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("signaling url must not be empty")
	}
	if opts.PeerID == "" {
		return nil, fmt.Errorf("peer id must not be empty")
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	q.Set("peer", opts.PeerID)
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling server: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMessageBytes
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}

	c := &WSClient{
		conn:   conn,
		logger: logger.With(slog.String("component", "signal_ws")),
		subs:   make(map[chan Event]struct{}),
		done:   make(chan struct{}),
	}
	if opts.MaxMessagesPerSecond > 0 {
		c.limiter = ratelimit.NewTokenBucket(nil, opts.MaxMessagesPerSecond, opts.MaxMessagesPerSecond)
	}

	conn.SetReadLimit(maxBytes)
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	go c.readLoop(idleTimeout)
	go c.pingLoop(pingInterval)
	return c, nil
}

// Send marshals and writes one signaling message. It validates before writing
// so a malformed message never reaches the wire.
func (c *WSClient) Send(targetID string, msg Message) error {
	msg.TargetID = targetID
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return fmt.Errorf("send: transport closed")
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *WSClient) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

// Close shuts the connection down. Subscribers receive a disconnect event
// exactly once, whether Close was called locally or the server went away.
func (c *WSClient) Close() error {
	c.shutdown()
	return nil
}

func (c *WSClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		_ = c.conn.Close()
		c.writeMu.Unlock()
		c.deliver(Event{Type: EventDisconnected})
	})
}

func (c *WSClient) readLoop(idleTimeout time.Duration) {
	defer c.shutdown()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("signaling connection lost", slog.String("error", err.Error()))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		if msgType != websocket.TextMessage {
			c.logger.Warn("dropping non-text signaling frame")
			continue
		}
		if c.limiter != nil && !c.limiter.Allow(1) {
			c.logger.Warn("dropping signaling message over rate budget")
			continue
		}

		msg, err := ParseMessage(data)
		if err != nil {
			reason := metrics.DropReasonInvalid
			if errors.Is(err, ErrUnsupportedMessageType) {
				reason = metrics.DropReasonUnsupported
			}
			metrics.SignalingDropped.WithLabelValues(reason).Inc()
			c.logger.Warn("dropping invalid signaling message", slog.String("error", err.Error()))
			continue
		}
		c.deliver(Event{Type: EventMessage, Msg: msg})
	}
}

func (c *WSClient) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *WSClient) deliver(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not draining; dropping beats wedging the read loop.
			c.logger.Warn("dropping signaling event for slow subscriber")
		}
	}
}
