// Package artifacts records when daily artifacts (diary entries, dreams,
// goal reviews) were produced. The gather phase only ever reads it; the
// generation pipelines write through Record after they persist content
// elsewhere.
package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Known artifact types.
const (
	TypeDiary      = "diary"
	TypeDream      = "dream"
	TypeGoalReview = "goal_review"
)

// Store tracks artifact production per character.
type Store struct {
	db *sql.DB
}

// Open opens or creates the artifact database under statePath.
func Open(statePath string) (*Store, error) {
	dbPath := filepath.Join(statePath, "system", "artifacts.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open artifacts db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping artifacts db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			id           TEXT PRIMARY KEY,
			character_id TEXT NOT NULL,
			type         TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_artifacts_lookup
			ON artifacts(character_id, type, created_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate artifacts db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LastTimestamp returns when the character last produced an artifact of the
// given type, or nil if they never have. Absence is not an error.
func (s *Store) LastTimestamp(ctx context.Context, characterID, artifactType string) (*time.Time, error) {
	var unix int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM artifacts
		 WHERE character_id = ? AND type = ?
		 ORDER BY created_at DESC LIMIT 1`,
		characterID, artifactType).Scan(&unix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last artifact timestamp: %w", err)
	}
	ts := time.Unix(unix, 0)
	return &ts, nil
}

// Record registers a produced artifact together with its content.
func (s *Store) Record(ctx context.Context, characterID, artifactType, artifactID, content string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (id, character_id, type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		artifactID, characterID, artifactType, content, at.Unix())
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// Content returns a recorded artifact's text.
func (s *Store) Content(ctx context.Context, artifactID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM artifacts WHERE id = ?`, artifactID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("artifact %s not found", artifactID)
	}
	if err != nil {
		return "", fmt.Errorf("artifact content: %w", err)
	}
	return content, nil
}
