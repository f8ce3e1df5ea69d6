package peer

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"mentorcall/internal/signal"
)

// ErrConnAlreadyActive means a connection already exists for the call key.
// Only one may exist per key at a time.
var ErrConnAlreadyActive = errors.New("peer connection already active for call key")

// Manager owns one Conn per active call key.
type Manager struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[signal.CallKey]*Conn
}

func NewManager(api *webrtc.API, iceServers []webrtc.ICEServer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:        api,
		iceServers: iceServers,
		logger:     logger.With(slog.String("component", "peer")),
		conns:      make(map[signal.CallKey]*Conn),
	}
}

// Create builds the connection for key. It fails rather than replacing an
// existing one; the caller must destroy the old session first.
func (m *Manager) Create(key signal.CallKey) (*Conn, error) {
	m.mu.Lock()
	if _, ok := m.conns[key]; ok {
		m.mu.Unlock()
		return nil, ErrConnAlreadyActive
	}
	// Reserve the slot before the (slow) pion construction.
	m.conns[key] = nil
	m.mu.Unlock()

	conn, err := NewConn(m.api, m.iceServers, m.logger.With(slog.String("call_key", string(key))))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.conns, key)
		return nil, err
	}
	m.conns[key] = conn
	return conn, nil
}

func (m *Manager) Get(key signal.CallKey) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[key]
	return conn, ok && conn != nil
}

// Destroy closes and forgets the connection for key. Idempotent; safe on a
// key that was never created or is half-initialized.
func (m *Manager) Destroy(key signal.CallKey) {
	m.mu.Lock()
	conn, ok := m.conns[key]
	delete(m.conns, key)
	m.mu.Unlock()
	if ok && conn != nil {
		_ = conn.Close()
	}
}

// Len reports the number of active connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
