package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const DBFileName = "stats.db"

const schema = `CREATE TABLE IF NOT EXISTS session_stats (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	tokens_seen         INTEGER NOT NULL DEFAULT 0,
	answers_seen        INTEGER NOT NULL DEFAULT 0,
	total_answer_tokens INTEGER NOT NULL DEFAULT 0,
	updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
)`

// SQLiteStore keeps the counters in a single-row table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the stats database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create stats dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init stats db: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Counters, error) {
	var c Counters
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens_seen, answers_seen, total_answer_tokens FROM session_stats WHERE id = 1`,
	).Scan(&c.TokensSeen, &c.AnswersSeen, &c.TotalAnswerTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return Counters{}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("load stats: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c Counters) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_stats (id, tokens_seen, answers_seen, total_answer_tokens, updated_at)
VALUES (1, ?, ?, ?, datetime('now'))
ON CONFLICT(id) DO UPDATE SET
	tokens_seen = excluded.tokens_seen,
	answers_seen = excluded.answers_seen,
	total_answer_tokens = excluded.total_answer_tokens,
	updated_at = excluded.updated_at`,
		c.TokensSeen, c.AnswersSeen, c.TotalAnswerTokens)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
