// Package timerstore persists one-shot timers in SQLite and dispatches
// them through a scheduler when they expire.
package timerstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS timers (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	event   TEXT NOT NULL,
	created INTEGER NOT NULL,
	expires INTEGER NOT NULL,
	payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_timers_expires ON timers(expires);
CREATE INDEX IF NOT EXISTS idx_timers_event ON timers(event);
`

// Timer is a persisted one-shot timer. Payload carries arbitrary
// JSON handed back to the event handler when the timer fires.
type Timer struct {
	ID      int64
	Event   string
	Created time.Time
	Expires time.Time
	Payload json.RawMessage
}

func (t Timer) String() string {
	return fmt.Sprintf("timer<id=%d event=%s expires=%s>", t.ID, t.Event, t.Expires.Format(time.RFC3339))
}

// Store is the SQLite-backed timer table.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("timer store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a timer and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, event string, created, expires time.Time, payload json.RawMessage) (Timer, error) {
	t := Timer{Event: event, Created: created.UTC(), Expires: expires.UTC(), Payload: payload}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO timers(event, created, expires, payload) VALUES(?,?,?,?)`,
		t.Event, t.Created.UnixMilli(), t.Expires.UnixMilli(), payloadArg(payload),
	)
	if err != nil {
		return Timer{}, err
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return Timer{}, err
	}
	return t, nil
}

// Next returns the earliest timer expiring within the horizon, or nil.
func (s *Store) Next(ctx context.Context, horizon time.Duration) (*Timer, error) {
	limit := time.Now().Add(horizon).UnixMilli()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event, created, expires, payload FROM timers
		 WHERE expires < ? ORDER BY expires LIMIT 1`, limit)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get fetches a timer by id.
func (s *Store) Get(ctx context.Context, id int64) (*Timer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event, created, expires, payload FROM timers WHERE id = ?`, id)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete removes a timer. Returns true when a row was deleted.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteByEvent removes every timer for an event, returning the count.
func (s *Store) DeleteByEvent(ctx context.Context, event string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE event = ?`, event)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count reports the number of persisted timers.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timers`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(r rowScanner) (Timer, error) {
	var (
		t                  Timer
		createdMS, expires int64
		payload            sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Event, &createdMS, &expires, &payload); err != nil {
		return Timer{}, err
	}
	t.Created = time.UnixMilli(createdMS).UTC()
	t.Expires = time.UnixMilli(expires).UTC()
	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	return t, nil
}

func payloadArg(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
