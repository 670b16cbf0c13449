// Package registry indexes captured traces in a local SQLite database,
// keyed by the network layer they came from.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// FileMode restricts the database to the owner.
const FileMode = 0600

// timeLayout is RFC 3339 with fixed-width nanoseconds. Unlike
// RFC3339Nano it never trims trailing zeros, so the stored TEXT column
// compares lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Trace is one captured activation record.
type Trace struct {
	// ID is assigned by the database on insert.
	ID int64 `json:"id"`
	// Source names the capture point, conventionally layer:detail.
	Source string `json:"source"`
	// Layer is the part of Source before the first colon.
	Layer string `json:"layer"`
	// RecordedAt is when the trace was captured.
	RecordedAt time.Time `json:"recorded_at"`
	// Archive names the archive file holding the full record.
	Archive string `json:"archive,omitempty"`
	// Checksum is the hex SHA-256 of the stored record payload.
	Checksum string `json:"checksum,omitempty"`
}

// LayerOf derives the layer key from a source name: everything before
// the first colon, or the whole name when there is none.
func LayerOf(source string) string {
	layer, _, _ := strings.Cut(source, ":")
	return layer
}

// Registry is a durable trace index.
type Registry struct {
	db   *sql.DB
	path string
}

// Open opens or creates the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}
	// Single writer; the driver serializes access instead of returning
	// SQLITE_BUSY under concurrent connections.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db, path: path}
	if err := r.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to set database permissions: %w", err)
	}
	return r, nil
}

// ensureSchema creates the tables and indexes for the current version.
func (r *Registry) ensureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("registry: failed to create schema_version table: %w", err)
	}

	_, err = r.db.Exec(`
		CREATE TABLE IF NOT EXISTS traces (
			id INTEGER PRIMARY KEY,
			source TEXT NOT NULL,
			layer TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			archive TEXT,
			checksum TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("registry: failed to create traces table: %w", err)
	}

	for _, ddl := range []string{
		"CREATE INDEX IF NOT EXISTS idx_traces_layer ON traces(layer)",
		"CREATE INDEX IF NOT EXISTS idx_traces_recorded_at ON traces(recorded_at)",
	} {
		if _, err := r.db.Exec(ddl); err != nil {
			return fmt.Errorf("registry: failed to create index: %w", err)
		}
	}

	_, err = r.db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", SchemaVersion)
	if err != nil {
		return fmt.Errorf("registry: failed to set schema version: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (r *Registry) Path() string {
	return r.path
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Add inserts one trace. The layer is derived from Source when unset and
// RecordedAt defaults to now. The assigned ID is written back.
func (r *Registry) Add(t *Trace) error {
	r.prepare(t)

	res, err := r.db.Exec(
		"INSERT INTO traces(source, layer, recorded_at, archive, checksum) VALUES(?, ?, ?, ?, ?)",
		t.Source, t.Layer, t.RecordedAt.UTC().Format(timeLayout), t.Archive, t.Checksum,
	)
	if err != nil {
		return fmt.Errorf("registry: failed to insert trace: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("registry: failed to read inserted id: %w", err)
	}
	t.ID = id
	return nil
}

// AddBatch inserts a group of traces in one transaction. Either every
// trace lands or none does.
func (r *Registry) AddBatch(traces []*Trace) error {
	if len(traces) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("registry: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO traces(source, layer, recorded_at, archive, checksum) VALUES(?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("registry: failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range traces {
		r.prepare(t)
		res, err := stmt.Exec(t.Source, t.Layer, t.RecordedAt.UTC().Format(timeLayout), t.Archive, t.Checksum)
		if err != nil {
			return fmt.Errorf("registry: failed to insert trace %s: %w", t.Source, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			t.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: failed to commit transaction: %w", err)
	}
	return nil
}

// prepare fills derived fields before insert.
func (r *Registry) prepare(t *Trace) {
	if t.Layer == "" {
		t.Layer = LayerOf(t.Source)
	}
	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now().UTC()
	}
}

// Get returns the traces for one layer, newest first. limit caps the
// result when positive.
func (r *Registry) Get(layer string, limit int) ([]Trace, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unlimited
	}
	rows, err := r.db.Query(
		"SELECT id, source, layer, recorded_at, archive, checksum FROM traces WHERE layer = ? ORDER BY recorded_at DESC, id DESC LIMIT ?",
		layer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to query traces: %w", err)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var t Trace
		var recordedAt string
		var archive, checksum sql.NullString
		if err := rows.Scan(&t.ID, &t.Source, &t.Layer, &recordedAt, &archive, &checksum); err != nil {
			return nil, fmt.Errorf("registry: failed to scan trace: %w", err)
		}
		ts, err := time.Parse(timeLayout, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("registry: invalid recorded_at %q: %w", recordedAt, err)
		}
		t.RecordedAt = ts
		t.Archive = archive.String
		t.Checksum = checksum.String
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: failed to iterate traces: %w", err)
	}
	return traces, nil
}

// Summary returns the trace count per layer.
func (r *Registry) Summary() (map[string]int, error) {
	rows, err := r.db.Query("SELECT layer, COUNT(*) FROM traces GROUP BY layer")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to query summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var layer string
		var count int
		if err := rows.Scan(&layer, &count); err != nil {
			return nil, fmt.Errorf("registry: failed to scan summary row: %w", err)
		}
		summary[layer] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: failed to iterate summary: %w", err)
	}
	return summary, nil
}

// Prune deletes traces recorded before the cutoff and returns how many
// were removed.
func (r *Registry) Prune(before time.Time) (int, error) {
	res, err := r.db.Exec(
		"DELETE FROM traces WHERE recorded_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("registry: failed to prune traces: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("registry: failed to count pruned traces: %w", err)
	}
	return int(n), nil
}
