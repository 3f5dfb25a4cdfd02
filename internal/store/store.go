// Package store persists a small audit trail in SQLite: the admin command
// log and a join/disconnect history, queryable from the console (`history`,
// `audit` commands, §B). The JSON control channel has no commands for it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite connection used for the audit/history tables.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("[store] opened %s", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS joins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT NOT NULL,
	display_name TEXT NOT NULL,
	peer_addr TEXT NOT NULL,
	joined_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_joins_guid ON joins(guid);

CREATE TABLE IF NOT EXISTS disconnects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT NOT NULL,
	disconnected_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_disconnects_guid ON disconnects(guid);

CREATE TABLE IF NOT EXISTS commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	target TEXT NOT NULL,
	reason TEXT NOT NULL,
	issued_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_issued_at ON commands(issued_at_unix_ms);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	return nil
}

// RecordJoin appends one row to the join history (§4.6 "NewPlayer").
func (s *Store) RecordJoin(guid, displayName, peerAddr string) {
	const q = `INSERT INTO joins (guid, display_name, peer_addr, joined_at_unix_ms) VALUES (?, ?, ?, ?)`
	if _, err := s.db.Exec(q, guid, displayName, peerAddr, time.Now().UnixMilli()); err != nil {
		log.Printf("[store] record join: %v", err)
	}
}

// RecordDisconnect appends one row to the disconnect history (§4.6
// "DisconnectPlayer").
func (s *Store) RecordDisconnect(guid string) {
	const q = `INSERT INTO disconnects (guid, disconnected_at_unix_ms) VALUES (?, ?)`
	if _, err := s.db.Exec(q, guid, time.Now().UnixMilli()); err != nil {
		log.Printf("[store] record disconnect: %v", err)
	}
}

// RecordCommand appends one row to the admin command audit log (§4.6
// "External command").
func (s *Store) RecordCommand(action, target, reason string) {
	const q = `INSERT INTO commands (action, target, reason, issued_at_unix_ms) VALUES (?, ?, ?, ?)`
	if _, err := s.db.Exec(q, action, target, reason, time.Now().UnixMilli()); err != nil {
		log.Printf("[store] record command: %v", err)
	}
}

// HistoryEntry is one row of join/disconnect history, used by the `history`
// console command.
type HistoryEntry struct {
	GUID        string
	DisplayName string
	PeerAddr    string
	Event       string // "join" or "disconnect"
	AtUnixMs    int64
}

// RecentHistory returns the most recent join/disconnect events across both
// tables, newest first, bounded to limit rows.
func (s *Store) RecentHistory(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT guid, display_name, peer_addr, 'join' AS event, joined_at_unix_ms AS at_ms FROM joins
UNION ALL
SELECT guid, '', '', 'disconnect' AS event, disconnected_at_unix_ms AS at_ms FROM disconnects
ORDER BY at_ms DESC
LIMIT ?
`
	rows, err := s.db.Query(q, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.GUID, &h.DisplayName, &h.PeerAddr, &h.Event, &h.AtUnixMs); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AuditEntry is one row of the admin command log, used by the `audit`
// console command.
type AuditEntry struct {
	Action   string
	Target   string
	Reason   string
	AtUnixMs int64
}

// RecentCommands returns the most recent admin commands, newest first,
// bounded to limit rows.
func (s *Store) RecentCommands(limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT action, target, reason, issued_at_unix_ms FROM commands ORDER BY issued_at_unix_ms DESC LIMIT ?`
	rows, err := s.db.Query(q, limit)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var a AuditEntry
		if err := rows.Scan(&a.Action, &a.Target, &a.Reason, &a.AtUnixMs); err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
