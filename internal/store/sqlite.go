package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteSchemaDDL mirrors schemaDDL but drops the JSONB type (SQLite
// stores JSON as TEXT) and uses SQLite's datetime() default.
const sqliteSchemaDDL = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// SQLiteStore is a Store backed by a single-file SQLite database, used
// for single-node or development deployments that don't want to stand
// up Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path (or ":memory:") and ensures the backing
// table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection
	// avoids SQLITE_BUSY under the executor's concurrent tool fan-out.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var raw string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return json.RawMessage(raw), nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) CreateOnly(ctx context.Context, key string, value json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO NOTHING`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("store: create %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ScanPrefix(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	query := `SELECT key, value FROM kv_store WHERE key LIKE ? ESCAPE '\' ORDER BY key`
	args := []any{escapeLikePrefix(prefix) + "%"}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: scan %q: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		entries = append(entries, Entry{Key: key, Value: json.RawMessage(value)})
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) AtomicWrite(ctx context.Context, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		if w.Value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, w.Key); err != nil {
				return fmt.Errorf("store: tx delete %q: %w", w.Key, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, datetime('now'))
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
			w.Key, string(w.Value),
		)
		if err != nil {
			return fmt.Errorf("store: tx put %q: %w", w.Key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
