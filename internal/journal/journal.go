// Package journal keeps an append-only record of scheduling decisions so an
// operator can see why a timer was accepted, refused or rejected.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is one scheduling decision.
type Entry struct {
	ID              int64     `json:"id"`
	At              time.Time `json:"at"`
	RequestID       string    `json:"request_id,omitempty"`
	Op              string    `json:"op"`
	Group           uint32    `json:"group_id"`
	TimerID         uint32    `json:"timer_id,omitempty"`
	Channel         uint32    `json:"channel,omitempty"`
	EventID         uint32    `json:"event_id,omitempty"`
	Start           string    `json:"start,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Outcome         string    `json:"outcome"`
	ConflictingID   uint32    `json:"conflicting_id,omitempty"`
	Detail          string    `json:"detail,omitempty"`
}

// Query filters List. Zero values mean "no filter".
type Query struct {
	Group *uint32
	Op    string
	Since time.Time
	Limit int
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	at_unix_ms       INTEGER NOT NULL,
	request_id       TEXT    NOT NULL DEFAULT '',
	op               TEXT    NOT NULL,
	group_id         INTEGER NOT NULL,
	timer_id         INTEGER NOT NULL DEFAULT 0,
	channel          INTEGER NOT NULL DEFAULT 0,
	event_id         INTEGER NOT NULL DEFAULT 0,
	start            TEXT    NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	outcome          TEXT    NOT NULL,
	conflicting_id   INTEGER NOT NULL DEFAULT 0,
	detail           TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS decisions_group_at ON decisions (group_id, at_unix_ms);
`

// DefaultLimit caps List when no limit is given.
const DefaultLimit = 100

// Journal is the SQLite-backed decision log.
type Journal struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (and migrates) the journal at path.
func Open(path string, cfg Config) (*Journal, error) {
	db, err := openDB(path, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append stores e. ID is assigned by the database; a zero At is set to now.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.Op == "" || e.Outcome == "" {
		return errors.New("journal: op and outcome are required")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO decisions
		(at_unix_ms, request_id, op, group_id, timer_id, channel, event_id, start, duration_minutes, outcome, conflicting_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), e.RequestID, e.Op, e.Group, e.TimerID, e.Channel, e.EventID,
		e.Start, e.DurationMinutes, e.Outcome, e.ConflictingID, e.Detail)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Group != nil {
		where = append(where, "group_id = ?")
		args = append(args, *q.Group)
	}
	if q.Op != "" {
		where = append(where, "op = ?")
		args = append(args, q.Op)
	}
	if !q.Since.IsZero() {
		where = append(where, "at_unix_ms >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, at_unix_ms, request_id, op, group_id, timer_id, channel, event_id,
		start, duration_minutes, outcome, conflicting_id, detail FROM decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.ID, &ms, &e.RequestID, &e.Op, &e.Group, &e.TimerID, &e.Channel, &e.EventID,
			&e.Start, &e.DurationMinutes, &e.Outcome, &e.ConflictingID, &e.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.At = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() { err = j.db.Close() })
	return err
}
