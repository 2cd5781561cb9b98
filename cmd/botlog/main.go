// Command botlog prints the event log an echobot run left in its state
// database, as a tree of process, connection and engine events.
package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/stupiduntilnot/tinybot/internal/db"
)

// node is one row of the events table plus the rows that point at it.
type node struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*node
}

type options struct {
	dbPath    string
	rootID    int64
	botID     string
	depth     int
	jsonOut   bool
	summary   bool
	noPayload bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("[botlog] %v", err)
	}
}

func run(args []string, out io.Writer) error {
	var opts options
	fs := pflag.NewFlagSet("botlog", pflag.ContinueOnError)
	fs.StringVar(&opts.dbPath, "db", envOrDefault("TINYBOT_DB_PATH", "./tinybot.db"), "SQLite state database")
	fs.Int64Var(&opts.rootID, "id", 0, "show the subtree of this event ID instead of the latest run")
	fs.StringVar(&opts.botID, "bot", "", "only consider runs of this bot ID")
	fs.IntVarP(&opts.depth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	fs.BoolVar(&opts.jsonOut, "json", false, "print the tree as JSON")
	fs.BoolVar(&opts.summary, "summary", false, "print event counts per type instead of the tree")
	fs.BoolVar(&opts.noPayload, "no-payload", false, "hide payload fields")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if _, err := os.Stat(opts.dbPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	database, err := sql.Open("sqlite3", opts.dbPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()

	rootID := opts.rootID
	if rootID == 0 {
		rootID, err = latestRun(database, opts.botID)
		if err != nil {
			return err
		}
	}

	rows, err := loadSubtree(database, rootID)
	if err != nil {
		return fmt.Errorf("load events under %d: %w", rootID, err)
	}
	root := link(rows, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}

	switch {
	case opts.summary:
		return writeSummary(out, root)
	case opts.jsonOut:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSON(root, 1, opts))
	default:
		writeTree(out, root, "", true, 1, opts)
		return nil
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// latestRun returns the newest echobot process.started event, optionally
// restricted to one bot.
func latestRun(database *sql.DB, botID string) (int64, error) {
	query := `SELECT id FROM events WHERE event_type = ?
		AND json_extract(payload, '$.role') = 'echobot'`
	args := []any{db.EventProcessStarted}
	if botID != "" {
		query += ` AND json_extract(payload, '$.bot_id') = ?`
		args = append(args, botID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var id int64
	err := database.QueryRow(query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		if botID != "" {
			return 0, fmt.Errorf("no echobot run recorded for bot %s", botID)
		}
		return 0, fmt.Errorf("no echobot run recorded")
	}
	return id, err
}

func loadSubtree(database *sql.DB, rootID int64) ([]*node, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*node
	for rows.Next() {
		n := &node{}
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.ParentID, &n.EventType, &n.Payload); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// link attaches every row to its parent. Rows arrive ordered by id, so
// children end up in insertion order.
func link(rows []*node, rootID int64) *node {
	byID := make(map[int64]*node, len(rows))
	for _, n := range rows {
		byID[n.ID] = n
	}
	for _, n := range rows {
		if !n.ParentID.Valid || n.ParentID.Int64 == n.ID {
			continue
		}
		if parent, ok := byID[n.ParentID.Int64]; ok {
			parent.Children = append(parent.Children, n)
		}
	}
	return byID[rootID]
}

func writeTree(w io.Writer, n *node, prefix string, last bool, depth int, opts options) {
	if depth == 1 {
		fmt.Fprintln(w, describe(n, opts.noPayload))
	} else {
		branch := "├── "
		if last {
			branch = "└── "
		}
		fmt.Fprintln(w, prefix+branch+describe(n, opts.noPayload))
	}

	indent := prefix
	if depth > 1 {
		if last {
			indent += "    "
		} else {
			indent += "│   "
		}
	}
	if opts.depth > 0 && depth >= opts.depth {
		if len(n.Children) > 0 {
			fmt.Fprintf(w, "%s└── [%d more]\n", indent, len(n.Children))
		}
		return
	}
	for i, child := range n.Children {
		writeTree(w, child, indent, i == len(n.Children)-1, depth+1, opts)
	}
}

// describe renders "[id] time  type  key=value ..." with keys sorted.
func describe(n *node, noPayload bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", n.ID, time.Unix(n.Timestamp, 0).UTC().Format(time.DateTime), n.EventType)
	if noPayload {
		return b.String()
	}
	fields := payload(n)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%s", k, formatValue(fields[k]))
	}
	return b.String()
}

func payload(n *node) map[string]any {
	if !n.Payload.Valid || n.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(n.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue prints whole JSON numbers without an exponent and clips long
// strings such as message texts.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonNode struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonNode     `json:"children,omitempty"`
}

func toJSON(n *node, depth int, opts options) jsonNode {
	out := jsonNode{ID: n.ID, Timestamp: n.Timestamp, EventType: n.EventType}
	if !opts.noPayload {
		out.Payload = payload(n)
	}
	if opts.depth > 0 && depth >= opts.depth {
		return out
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, toJSON(child, depth+1, opts))
	}
	return out
}

// writeSummary prints how often each event type occurs below and including n.
func writeSummary(w io.Writer, n *node) error {
	counts := map[string]int{}
	var walk func(*node)
	walk = func(n *node) {
		counts[n.EventType]++
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if _, err := fmt.Fprintf(w, "%-20s %d\n", t, counts[t]); err != nil {
			return err
		}
	}
	return nil
}
