package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stupiduntilnot/tinybot/internal/telegram"
)

// Process event types. Engine events are defined by the
// telegram package and stored verbatim.
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates all tables: events, offsets.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);

		CREATE TABLE IF NOT EXISTS offsets (
			bot_id TEXT PRIMARY KEY,
			next_offset INTEGER NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
	`)
	return err
}

// DeriveOffset returns the stored polling offset for botID, or 0 if none.
func DeriveOffset(database *sql.DB, botID string) (int64, error) {
	var offset int64
	err := database.QueryRow(
		`SELECT COALESCE(MAX(next_offset), 0) FROM offsets WHERE bot_id = ?`,
		botID,
	).Scan(&offset)
	return offset, err
}

// SaveOffset stores offset for botID. The stored value never goes down.
func SaveOffset(database *sql.DB, botID string, offset int64) error {
	_, err := database.Exec(`
		INSERT INTO offsets (bot_id, next_offset) VALUES (?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			next_offset = MAX(next_offset, excluded.next_offset),
			updated_at = unixepoch()`,
		botID, offset,
	)
	if err != nil {
		return fmt.Errorf("save offset %d for bot %s: %w", offset, botID, err)
	}
	return nil
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// CountEvents returns how many events of the given type were logged.
func CountEvents(database *sql.DB, eventType string) (int, error) {
	var n int
	err := database.QueryRow(`SELECT COUNT(*) FROM events WHERE event_type = ?`, eventType).Scan(&n)
	return n, err
}

// Store binds the database to one bot so the engine can persist its offset
// and events without knowing about SQL. Engine events are nested under the
// connection.opened event of the connection they happened on, which itself
// hangs off ParentID.
type Store struct {
	DB    *sql.DB
	BotID string
	// ParentID, when set, is the process.started event of this process.
	ParentID *int64

	connEventID *int64
}

func (s *Store) LoadOffset() (int64, error) {
	return DeriveOffset(s.DB, s.BotID)
}

func (s *Store) SaveOffset(offset int64) error {
	return SaveOffset(s.DB, s.BotID, offset)
}

// LogEvent records an engine event. Failures are logged, never returned:
// losing an audit row must not stop the bot.
func (s *Store) LogEvent(eventType string, payload map[string]any) {
	parent := s.ParentID
	switch eventType {
	case telegram.EventConnectionOpened, EventProcessStarted, EventProcessStopped:
	default:
		if s.connEventID != nil {
			parent = s.connEventID
		}
	}

	id, err := LogEvent(s.DB, parent, eventType, payload)
	if err != nil {
		log.Printf("[db] %v", err)
	}
	switch eventType {
	case telegram.EventConnectionOpened:
		if err == nil {
			s.connEventID = &id
		}
	case telegram.EventConnectionLost, EventProcessStopped:
		s.connEventID = nil
	}
}
