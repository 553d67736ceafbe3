// Package sqlite implements the store.KV boundary on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/critward/internal/store"
)

// KV is a SQLite-backed key-value and append-log store.
type KV struct {
	db *sql.DB
}

var _ store.KV = (*KV)(nil)

// New opens (or creates) the store at path.
func New(path string) (*KV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	kv := &KV{db: db}
	if err := kv.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return kv, nil
}

func (k *KV) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			log_key TEXT NOT NULL,
			value BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_key ON logs(log_key, id)`,
	}
	for _, stmt := range statements {
		if _, err := k.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value for key, with ok=false when absent.
func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Put writes or replaces the value for key.
func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Append adds an entry to the named log.
func (k *KV) Append(ctx context.Context, logKey string, value []byte) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO logs (log_key, value, created_at) VALUES (?, ?, ?)`,
		logKey, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append %q: %w", logKey, err)
	}
	return nil
}

// ReadLog returns all entries of logKey in append order.
func (k *KV) ReadLog(ctx context.Context, logKey string) ([][]byte, error) {
	rows, err := k.db.QueryContext(ctx,
		`SELECT value FROM logs WHERE log_key = ? ORDER BY id ASC`, logKey)
	if err != nil {
		return nil, fmt.Errorf("read log %q: %w", logKey, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan log %q: %w", logKey, err)
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// Close closes the database.
func (k *KV) Close() error {
	return k.db.Close()
}
