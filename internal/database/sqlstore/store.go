// Package sqlstore keeps conversation sessions in a local SQLite file.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"AstroBot/bot/chat"
	"AstroBot/internal/lib/jsoncodec"
)

// Store implements chat.SessionStore on top of database/sql.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// OpenMemory creates an in-memory database. A single connection keeps every
// query on the same database.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    user_key TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    version INTEGER NOT NULL,
    last_activity INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity);
`

func (s *Store) Load(ctx context.Context, userKey string) (*chat.Session, error) {
	var body string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT body, version FROM sessions WHERE user_key = ?`, userKey,
	).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.NewSession(userKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return decode(body, version)
}

// Save inserts a new row for version 0 and otherwise updates the row only
// if the stored version still matches.
func (s *Store) Save(ctx context.Context, session *chat.Session) error {
	next := *session
	next.Version = session.Version + 1
	if err := s.write(ctx, s.db, &next, session.Version); err != nil {
		return err
	}
	session.Version = next.Version
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) write(ctx context.Context, db execer, session *chat.Session, expected int64) error {
	body, err := jsoncodec.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	activity := session.LastActivityAt.UnixMilli()

	var res sql.Result
	if expected == 0 {
		res, err = db.ExecContext(ctx,
			`INSERT INTO sessions (user_key, body, version, last_activity) VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_key) DO NOTHING`,
			session.UserKey, string(body), session.Version, activity)
	} else {
		res, err = db.ExecContext(ctx,
			`UPDATE sessions SET body = ?, version = ?, last_activity = ? WHERE user_key = ? AND version = ?`,
			string(body), session.Version, activity, session.UserKey, expected)
	}
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if n == 0 {
		return chat.ErrConcurrentModification
	}
	return nil
}

type staleRow struct {
	body    string
	version int64
}

// ExpireStale resets sessions idle since before cutoff inside one transaction.
func (s *Store) ExpireStale(ctx context.Context, cutoff time.Time, flowID, stepID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT body, version FROM sessions WHERE last_activity < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	var stale []staleRow
	for rows.Next() {
		var r staleRow
		if err := rows.Scan(&r.body, &r.version); err != nil {
			rows.Close()
			return 0, fmt.Errorf("expiring sessions: %w", err)
		}
		stale = append(stale, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}

	expired := 0
	for _, r := range stale {
		session, err := decode(r.body, r.version)
		if err != nil {
			return 0, err
		}
		if session.FlowID == flowID && session.StepID == stepID && len(session.Context) == 0 {
			continue
		}
		session.Reset(flowID, stepID)
		session.Version = r.version + 1
		err = s.write(ctx, tx, session, r.version)
		if errors.Is(err, chat.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return 0, err
		}
		expired++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	return expired, nil
}

func (s *Store) Delete(ctx context.Context, userKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_key = ?`, userKey)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func decode(body string, version int64) (*chat.Session, error) {
	var session chat.Session
	if err := jsoncodec.Unmarshal([]byte(body), &session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	session.Version = version
	if session.Context == nil {
		session.Context = make(map[string]any)
	}
	return &session, nil
}
