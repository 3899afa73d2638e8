package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a shared SQLite file. WAL mode plus a busy
// timeout makes the single-statement upsert safe across processes.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the cache database under statePath.
func Open(statePath string) (*SQLite, error) {
	dbPath := filepath.Join(statePath, "system", "cache.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS keys (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Exists reports whether key is present and unexpired.
func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keys WHERE key = ? AND expires_at > ?`,
		key, s.now().Unix()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("cache exists: %w", err)
	}
	return n > 0, nil
}

// SetIfAbsent writes key only if it is missing or expired. The conditional
// upsert is a single statement, so two processes racing on the same key see
// exactly one winner.
func (s *SQLite) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	nowUnix := s.now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO keys (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
		WHERE keys.expires_at <= ?`,
		key, value, nowUnix+int64(ttl.Seconds()), nowUnix)
	if err != nil {
		return false, fmt.Errorf("cache set-if-absent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache set-if-absent rows: %w", err)
	}
	return n > 0, nil
}

// Delete removes key.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Sweep drops expired rows. Callers may run it periodically; correctness
// never depends on it because reads filter on expires_at.
func (s *SQLite) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	return res.RowsAffected()
}
