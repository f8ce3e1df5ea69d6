// Package history persists a log of finished calls to SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mentorcall/internal/call"
	"mentorcall/internal/signal"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	call_key    TEXT    NOT NULL,
	peer_id     TEXT    NOT NULL,
	call_type   TEXT    NOT NULL,
	direction   TEXT    NOT NULL,
	end_reason  TEXT    NOT NULL,
	answered    INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS calls_started_at ON calls (started_at DESC);
`

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type Entry struct {
	ID        int64           `json:"id"`
	Key       signal.CallKey  `json:"callKey"`
	PeerID    string          `json:"peerId"`
	CallType  signal.CallType `json:"callType"`
	Direction Direction       `json:"direction"`
	EndReason call.EndReason  `json:"endReason"`
	Answered  bool            `json:"answered"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   time.Time       `json:"endedAt"`
}

// Store owns the SQLite database. Open with a filesystem path, or ":memory:"
// for an ephemeral log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	open map[signal.CallKey]pendingCall
}

type pendingCall struct {
	direction Direction
	answered  bool
	startedAt time.Time
}

func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc.org/sqlite serves one connection at a time well; more just
	// contend on the file lock, and :memory: needs a single connection to see
	// one database at all.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "history")),
		now:    time.Now,
		open:   make(map[signal.CallKey]pendingCall),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Attach subscribes the store to the engine's state changes. Ringing opens a
// pending row in memory; the terminal transition writes it out.
func (s *Store) Attach(engine *call.Engine) {
	engine.OnStateChange(func(change call.StateChange) {
		s.observe(change)
	})
}

func (s *Store) observe(change call.StateChange) {
	switch change.To {
	case call.StateOutgoingRinging:
		s.noteStart(change.Key, DirectionOutgoing)
	case call.StateIncomingRinging:
		s.noteStart(change.Key, DirectionIncoming)
	case call.StateActive:
		s.noteAnswered(change.Key)
	case call.StateEnded:
		s.finish(change)
	}
}

func (s *Store) noteStart(key signal.CallKey, direction Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[key]; ok {
		return
	}
	s.open[key] = pendingCall{direction: direction, startedAt: s.now()}
}

func (s *Store) noteAnswered(key signal.CallKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.open[key]; ok {
		p.answered = true
		s.open[key] = p
	}
}

func (s *Store) finish(change call.StateChange) {
	s.mu.Lock()
	p, ok := s.open[change.Key]
	delete(s.open, change.Key)
	s.mu.Unlock()
	if !ok {
		return
	}

	entry := Entry{
		Key:       change.Key,
		PeerID:    change.PeerID,
		CallType:  change.CallType,
		Direction: p.direction,
		EndReason: change.Reason,
		Answered:  p.answered,
		StartedAt: p.startedAt,
		EndedAt:   s.now(),
	}
	if err := s.Record(context.Background(), entry); err != nil {
		s.logger.Warn("failed to record call",
			slog.String("call_key", string(change.Key)),
			slog.String("error", err.Error()))
	}
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (call_key, peer_id, call_type, direction, end_reason, answered, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Key), e.PeerID, string(e.CallType), string(e.Direction), string(e.EndReason),
		boolToInt(e.Answered), e.StartedAt.UnixMilli(), e.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// Recent returns up to limit finished calls, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_key, peer_id, call_type, direction, end_reason, answered, started_at, ended_at
		 FROM calls ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			answered           int
			startedMs, endedMs int64
		)
		if err := rows.Scan(&e.ID, &e.Key, &e.PeerID, &e.CallType, &e.Direction, &e.EndReason, &answered, &startedMs, &endedMs); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		e.Answered = answered != 0
		e.StartedAt = time.UnixMilli(startedMs)
		e.EndedAt = time.UnixMilli(endedMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
