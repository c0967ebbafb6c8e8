package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nshiba/tsumugi/pkg/types"
)

// SaveDB manages the save-slot database.
type SaveDB struct {
	db   *sql.DB
	path string
}

// SlotInfo describes one save slot without its payload.
type SlotInfo struct {
	StoryID       string
	Slot          string
	Label         string
	CurrentNodeID string
	SavedAt       time.Time
}

// NewSaveDB opens or creates the save database under the data directory.
func NewSaveDB(dataDir string) (*SaveDB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "saves.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open save database: %w", err)
	}

	saveDB := &SaveDB{db: db, path: dbPath}
	if err := saveDB.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize save database: %w", err)
	}
	return saveDB, nil
}

// initialize creates the required tables if they don't exist.
func (s *SaveDB) initialize() error {
	schema := `
	-- One row per (story, slot); payload is the serialized SaveData.
	CREATE TABLE IF NOT EXISTS saves (
		story_id        TEXT NOT NULL,
		slot            TEXT NOT NULL,
		label           TEXT NOT NULL DEFAULT '',
		current_node_id TEXT NOT NULL,
		payload         TEXT NOT NULL,
		saved_at        INTEGER NOT NULL,
		PRIMARY KEY (story_id, slot)
	);

	CREATE INDEX IF NOT EXISTS idx_saves_story ON saves(story_id);

	-- Schema version for migrations
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put stores or replaces a save slot.
func (s *SaveDB) Put(slot string, data *types.SaveData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize save data: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO saves (story_id, slot, label, current_node_id, payload, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, data.StoryID, slot, data.Label, data.CurrentNodeID, string(payload), data.SavedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to write save slot: %w", err)
	}
	return nil
}

// Get loads a save slot. Returns nil without error when the slot is empty.
func (s *SaveDB) Get(storyID, slot string) (*types.SaveData, error) {
	var payload string
	err := s.db.QueryRow(
		"SELECT payload FROM saves WHERE story_id = ? AND slot = ?",
		storyID, slot,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read save slot: %w", err)
	}

	var data types.SaveData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("corrupt save payload for slot %q: %w", slot, err)
	}
	return &data, nil
}

// List returns slot metadata, newest first. An empty storyID lists all
// stories.
func (s *SaveDB) List(storyID string) ([]SlotInfo, error) {
	query := `
		SELECT story_id, slot, label, current_node_id, saved_at
		FROM saves
	`
	var args []any
	if storyID != "" {
		query += " WHERE story_id = ?"
		args = append(args, storyID)
	}
	query += " ORDER BY saved_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list save slots: %w", err)
	}
	defer rows.Close()

	var slots []SlotInfo
	for rows.Next() {
		var info SlotInfo
		var savedAtUnix int64
		if err := rows.Scan(&info.StoryID, &info.Slot, &info.Label, &info.CurrentNodeID, &savedAtUnix); err != nil {
			return nil, err
		}
		info.SavedAt = time.Unix(savedAtUnix, 0)
		slots = append(slots, info)
	}
	return slots, rows.Err()
}

// Delete removes a save slot.
func (s *SaveDB) Delete(storyID, slot string) error {
	_, err := s.db.Exec("DELETE FROM saves WHERE story_id = ? AND slot = ?", storyID, slot)
	return err
}

// Export writes a save slot to a JSON file atomically.
func (s *SaveDB) Export(storyID, slot, path string) error {
	data, err := s.Get(storyID, slot)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("save slot %q for story %q is empty", slot, storyID)
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, payload)
}

// Close closes the database connection.
func (s *SaveDB) Close() error {
	return s.db.Close()
}
