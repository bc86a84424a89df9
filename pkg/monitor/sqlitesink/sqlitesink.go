// Package sqlitesink is an optional SQLite-backed monitor sink, an
// alternative to the plain append-only monitor.FileSink for persisting
// ingested frames (spec.md §4.5, supplemented feature).
package sqlitesink

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor"
)

// Sink persists monitor frames to a SQLite database file.
type Sink struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite database at path and ensures the
// frames table exists.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitesink: open %s: %w", path, err)
	}
	sink := &Sink{db: db}
	if err := sink.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) initialize() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ingested_at TIMESTAMP NOT NULL,
		direction TEXT NOT NULL,
		source TEXT NOT NULL,
		can_id INTEGER NOT NULL,
		flags INTEGER NOT NULL,
		dlc INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlitesink: create table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_frames_can_id ON frames(can_id)`)
	if err != nil {
		return fmt.Errorf("sqlitesink: create index: %w", err)
	}
	return nil
}

// Write inserts one monitor frame row.
func (s *Sink) Write(frame monitor.Frame) error {
	_, err := s.db.Exec(
		`INSERT INTO frames (ingested_at, direction, source, can_id, flags, dlc, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		frame.Ingested, frame.Direction.String(), frame.Source, frame.CAN.ID, frame.CAN.Flags, frame.CAN.DLC, frame.CAN.Data,
	)
	if err != nil {
		return fmt.Errorf("sqlitesink: insert: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// CountByCANID returns the number of stored frames with the given
// arbitration id, primarily for test assertions.
func (s *Sink) CountByCANID(id uint32) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM frames WHERE can_id = ?`, id)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
