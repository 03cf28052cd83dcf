package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	source      TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	entry       TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (source, item_id)
)`

// SQLiteStore keeps the ledger in a SQLite database, one row per tweet.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init ledger database: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads every row.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]map[domain.TweetID]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, item_id, entry FROM ledger_entries")
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[domain.TweetID]Entry)
	for rows.Next() {
		var source, id, raw string
		if err := rows.Scan(&source, &id, &raw); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("parse ledger entry %s/%s: %w", source, id, err)
		}
		m, ok := out[source]
		if !ok {
			m = make(map[domain.TweetID]Entry)
			out[source] = m
		}
		m[domain.TweetID(id)] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	return out, nil
}

// Put inserts the entry. An existing row for the tweet is never replaced.
func (s *SQLiteStore) Put(ctx context.Context, source string, id domain.TweetID, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO ledger_entries (source, item_id, entry, recorded_at) VALUES (?, ?, ?, ?) ON CONFLICT (source, item_id) DO NOTHING",
		source, id.String(), string(raw), e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAlreadyRecorded
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
