package db

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stupiduntilnot/tinybot/internal/telegram"
)

var (
	_ telegram.OffsetStore = (*Store)(nil)
	_ telegram.EventLog    = (*Store)(nil)
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(t.TempDir() + "/state/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitSchema(t *testing.T) {
	db := testDB(t)

	tables := map[string]bool{}
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('events','offsets')`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		tables[name] = true
	}

	for _, want := range []string{"events", "offsets"} {
		if !tables[want] {
			t.Errorf("table %q not created", want)
		}
	}

	// Idempotent.
	if err := InitSchema(db); err != nil {
		t.Fatalf("second InitSchema: %v", err)
	}
}

func TestLogEvent_Basic(t *testing.T) {
	db := testDB(t)

	id1, err := LogEvent(db, nil, EventProcessStarted, map[string]any{"role": "bot", "pid": 123})
	if err != nil {
		t.Fatal(err)
	}
	if id1 <= 0 {
		t.Errorf("expected positive id, got %d", id1)
	}

	id2, err := LogEvent(db, &id1, telegram.EventConnectionOpened, map[string]any{"host": "api.telegram.org"})
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Errorf("expected id2 > id1, got %d <= %d", id2, id1)
	}

	var storedParent int64
	if err := db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, id2).Scan(&storedParent); err != nil {
		t.Fatal(err)
	}
	if storedParent != id1 {
		t.Errorf("expected parent_id=%d, got %d", id1, storedParent)
	}

	var payloadStr string
	if err := db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id1).Scan(&payloadStr); err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		t.Fatalf("invalid payload JSON: %v", err)
	}
	if payload["role"] != "bot" {
		t.Errorf("expected role=bot, got %v", payload["role"])
	}
}

func TestLogEvent_NilPayload(t *testing.T) {
	db := testDB(t)

	id, err := LogEvent(db, nil, EventProcessStopped, nil)
	if err != nil {
		t.Fatal(err)
	}

	var payload sql.NullString
	if err := db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id).Scan(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Valid {
		t.Errorf("expected NULL payload, got %q", payload.String)
	}
}

func TestOffsets_NeverDecrease(t *testing.T) {
	db := testDB(t)

	offset, err := DeriveOffset(db, "123")
	if err != nil {
		t.Fatal(err)
	}
	if offset != 0 {
		t.Errorf("expected 0, got %d", offset)
	}

	for _, o := range []int64{56, 80, 70} {
		if err := SaveOffset(db, "123", o); err != nil {
			t.Fatal(err)
		}
	}
	offset, err = DeriveOffset(db, "123")
	if err != nil {
		t.Fatal(err)
	}
	if offset != 80 {
		t.Errorf("expected 80, got %d", offset)
	}

	other, err := DeriveOffset(db, "456")
	if err != nil {
		t.Fatal(err)
	}
	if other != 0 {
		t.Errorf("offsets leaked across bots: %d", other)
	}
}

func TestStore(t *testing.T) {
	db := testDB(t)
	parent, err := LogEvent(db, nil, EventProcessStarted, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := &Store{DB: db, BotID: "9", ParentID: &parent}

	if err := s.SaveOffset(12); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadOffset()
	if err != nil {
		t.Fatal(err)
	}
	if got != 12 {
		t.Errorf("expected 12, got %d", got)
	}

	s.LogEvent(telegram.EventUpdateDelivered, map[string]any{"update_id": 11})
	n, err := CountEvents(db, telegram.EventUpdateDelivered)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
	var storedParent int64
	if err := db.QueryRow(`SELECT parent_id FROM events WHERE event_type = ?`, telegram.EventUpdateDelivered).Scan(&storedParent); err != nil {
		t.Fatal(err)
	}
	if storedParent != parent {
		t.Errorf("expected parent_id=%d, got %d", parent, storedParent)
	}
}

func TestStore_NestsEventsUnderConnection(t *testing.T) {
	db := testDB(t)
	parent, err := LogEvent(db, nil, EventProcessStarted, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := &Store{DB: db, BotID: "9", ParentID: &parent}

	s.LogEvent(telegram.EventConnectionOpened, map[string]any{"conn_id": "a"})
	s.LogEvent(telegram.EventMessageSent, map[string]any{"chat_id": 1})
	s.LogEvent(telegram.EventConnectionLost, map[string]any{"reason": "read"})
	s.LogEvent(telegram.EventAPIError, map[string]any{"error": "x"})

	parentOf := func(eventType string) int64 {
		t.Helper()
		var p int64
		if err := db.QueryRow(`SELECT parent_id FROM events WHERE event_type = ?`, eventType).Scan(&p); err != nil {
			t.Fatal(err)
		}
		return p
	}
	var connID int64
	if err := db.QueryRow(`SELECT id FROM events WHERE event_type = ?`, telegram.EventConnectionOpened).Scan(&connID); err != nil {
		t.Fatal(err)
	}
	if got := parentOf(telegram.EventConnectionOpened); got != parent {
		t.Errorf("connection.opened parent=%d want %d", got, parent)
	}
	if got := parentOf(telegram.EventMessageSent); got != connID {
		t.Errorf("message.sent parent=%d want %d", got, connID)
	}
	if got := parentOf(telegram.EventConnectionLost); got != connID {
		t.Errorf("connection.lost parent=%d want %d", got, connID)
	}
	if got := parentOf(telegram.EventAPIError); got != parent {
		t.Errorf("event after disconnect parent=%d want %d", got, parent)
	}
}
