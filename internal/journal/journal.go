package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EntryType identifies what kind of journal entry this is
type EntryType string

const (
	EntryCycle  EntryType = "cycle"  // one completed daily-life cycle
	EntryAction EntryType = "action" // one executed action
	EntryError  EntryType = "error"  // an absorbed failure
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Type      EntryType      `json:"type"`
	Character string         `json:"character,omitempty"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Journal writes observability entries to state/journal.jsonl
type Journal struct {
	path string
	mu   sync.Mutex
}

// New creates a journal writer
func New(statePath string) *Journal {
	return &Journal{
		path: filepath.Join(statePath, "journal.jsonl"),
	}
}

// Log writes an entry to the journal
func (j *Journal) Log(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// LogCycle records the outcome of one cycle.
func (j *Journal) LogCycle(character, cycleID, summary string, data map[string]any) error {
	return j.Log(Entry{
		Type:      EntryCycle,
		Character: character,
		CycleID:   cycleID,
		Summary:   summary,
		Data:      data,
	})
}

// LogAction records one executed action.
func (j *Journal) LogAction(character, cycleID, summary string, data map[string]any) error {
	return j.Log(Entry{
		Type:      EntryAction,
		Character: character,
		CycleID:   cycleID,
		Summary:   summary,
		Data:      data,
	})
}

// LogError records an absorbed failure.
func (j *Journal) LogError(character, cycleID string, err error, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["error"] = err.Error()
	return j.Log(Entry{
		Type:      EntryError,
		Character: character,
		CycleID:   cycleID,
		Summary:   "error",
		Data:      data,
	})
}

// Recent returns the last n entries
func (j *Journal) Recent(n int) ([]Entry, error) {
	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}
	if n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Today returns entries from today (local time)
func (j *Journal) Today() ([]Entry, error) {
	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var result []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(today) {
			result = append(result, e)
		}
	}
	return result, nil
}

// ByType returns the most recent entries of a specific type
func (j *Journal) ByType(t EntryType, limit int) ([]Entry, error) {
	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		if entries[i].Type == t {
			result = append(result, entries[i])
		}
	}
	return result, nil
}

// readAll reads all entries from the log file
func (j *Journal) readAll() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
