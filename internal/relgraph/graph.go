// Package relgraph holds the relationship graph: one edge per
// character/user pair carrying a trust score and the time of their last
// interaction. The daily-life loop reads it to notice people it trusts who
// have gone quiet; conversation pipelines update it.
package relgraph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Absence is a trusted user the character has not heard from in a while.
type Absence struct {
	UserID     string
	UserName   string
	DaysAbsent int
	Trust      float64 // 0-1
	LastTopic  string
}

// Graph wraps the relationship database.
type Graph struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the relationship database under statePath.
func Open(statePath string) (*Graph, error) {
	dbPath := filepath.Join(statePath, "system", "relationships.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open relationship db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping relationship db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS edges (
			character_id     TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			user_name        TEXT NOT NULL,
			trust            REAL NOT NULL DEFAULT 0,
			last_interaction INTEGER NOT NULL,
			last_topic       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (character_id, user_id)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate relationship db: %w", err)
	}

	return &Graph{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (g *Graph) Close() error {
	return g.db.Close()
}

// ConcerningAbsences returns up to limit users the character trusts at or
// above minTrust with no interaction in the last minDays days, strongest
// trust first.
func (g *Graph) ConcerningAbsences(ctx context.Context, characterID string, minTrust float64, minDays, limit int) ([]Absence, error) {
	cutoff := g.now().AddDate(0, 0, -minDays).Unix()

	rows, err := g.db.QueryContext(ctx,
		`SELECT user_id, user_name, trust, last_interaction, last_topic
		 FROM edges
		 WHERE character_id = ? AND trust >= ? AND last_interaction <= ?
		 ORDER BY trust DESC
		 LIMIT ?`,
		characterID, minTrust, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query absences: %w", err)
	}
	defer rows.Close()

	var result []Absence
	for rows.Next() {
		var a Absence
		var lastUnix int64
		if err := rows.Scan(&a.UserID, &a.UserName, &a.Trust, &lastUnix, &a.LastTopic); err != nil {
			return nil, fmt.Errorf("scan absence: %w", err)
		}
		a.DaysAbsent = int(g.now().Sub(time.Unix(lastUnix, 0)).Hours() / 24)
		result = append(result, a)
	}
	return result, rows.Err()
}

// Touch records an interaction with a user, creating the edge if needed.
// Trust only moves through UpdateTrust; Touch never changes it.
func (g *Graph) Touch(ctx context.Context, characterID, userID, userName, topic string) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO edges (character_id, user_id, user_name, trust, last_interaction, last_topic)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(character_id, user_id) DO UPDATE SET
			user_name = excluded.user_name,
			last_interaction = excluded.last_interaction,
			last_topic = excluded.last_topic`,
		characterID, userID, userName, g.now().Unix(), topic)
	if err != nil {
		return fmt.Errorf("touch edge: %w", err)
	}
	return nil
}

// UpdateTrust sets the trust score on an existing edge.
func (g *Graph) UpdateTrust(ctx context.Context, characterID, userID string, trust float64) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE edges SET trust = ? WHERE character_id = ? AND user_id = ?`,
		trust, characterID, userID)
	if err != nil {
		return fmt.Errorf("update trust: %w", err)
	}
	return nil
}
