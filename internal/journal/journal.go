// Package journal provides the durable audit log of engine events.
//
// Every state-changing engine verb (install, instantiate, escrow,
// reallocate, complete, invite, redeem) appends one event. The journal is
// strictly an audit surface: the engine never reads it back to make
// decisions, and balance durability remains the custodian's job.
//
// Uses SQLite with WAL mode; a single writer connection avoids
// SQLITE_BUSY under the engine's serialized commit discipline.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tessera-io/tessera/internal/canon"
)

//go:embed schema.sql
var schemaSQL string

// Event kinds appended by the engine.
const (
	KindInstall     = "install"
	KindInstantiate = "instantiate"
	KindEscrow      = "escrow"
	KindReallocate  = "reallocate"
	KindComplete    = "complete"
	KindInvite      = "invite"
	KindRedeem      = "redeem"
)

// Event is one journaled engine event. Flow groups the events of one
// contract instance; engine-level events (install) leave it empty.
type Event struct {
	Seq     int64
	Kind    string
	Flow    string
	Payload map[string]any
}

// Journal is an append-only event log. Safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal database at path. ":memory:" gives an
// ephemeral journal for tests and the scenario harness.
//
// The database is configured with WAL mode, NORMAL synchronous, a 5s
// busy timeout, and a single connection (SQLite allows one writer).
// Idempotent: reopening an existing journal applies no destructive
// migration.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append journals one event. The payload is serialized to canonical JSON;
// a payload that cannot canonicalize (floats, nils) is a programming
// error surfaced as an error here, before anything is written.
func (j *Journal) Append(ctx context.Context, kind, flow string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := canon.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: append %s: %w", kind, err)
	}
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO events (kind, flow, payload) VALUES (?, ?, ?)
	`, kind, flow, string(body)); err != nil {
		return fmt.Errorf("journal: append %s: %w", kind, err)
	}
	return nil
}

// ReadAll returns every event in append order.
func (j *Journal) ReadAll(ctx context.Context) ([]Event, error) {
	return j.read(ctx, `
		SELECT seq, kind, flow, payload FROM events ORDER BY seq ASC
	`)
}

// ReadFlow returns the events of one flow in append order.
// Returns an empty slice, not nil, when the flow has no events.
func (j *Journal) ReadFlow(ctx context.Context, flow string) ([]Event, error) {
	return j.read(ctx, `
		SELECT seq, kind, flow, payload FROM events WHERE flow = ? ORDER BY seq ASC
	`, flow)
}

func (j *Journal) read(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev      Event
			payload string
		)
		if err := rows.Scan(&ev.Seq, &ev.Kind, &ev.Flow, &payload); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		ev.Payload, err = decodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("journal: event %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return events, nil
}
