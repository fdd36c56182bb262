// Package eventlog maintains a SQLite index over the bus event log so past
// messages can be filtered without scanning every shard. The JSON-Lines log
// stays authoritative; the index can be deleted and rebuilt at any time.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ufoo/pkg/bus"

	_ "modernc.org/sqlite" // SQLite driver
)

// tsLayout matches the bus event timestamp format, which sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// Source yields bus events with seq greater than after. *bus.Bus satisfies
// it.
type Source interface {
	Events(after int64) ([]bus.Event, error)
}

// Record is one indexed event.
type Record struct {
	Seq       int64
	TS        time.Time
	Publisher string
	Target    string
	Event     string
	Type      string
	Message   string
}

// QueryOpts specifies filter criteria for Query.
type QueryOpts struct {
	// Publisher filters to events sent by one subscriber id.
	Publisher string

	// Target filters on the target exactly as it was addressed.
	Target string

	// Type filters to "message/targeted" or "message/broadcast".
	Type string

	// After filters events at or after this time.
	After *time.Time

	// Before filters events at or before this time.
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Index is the SQLite history index.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the index at path with WAL journaling and
// a 5-second busy timeout, and applies the schema.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", strings.ToLower(pragma), path, err)
		}
	}
	if _, err := db.ExecContext(ctx, SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database. Safe to call multiple times.
func (x *Index) Close() error {
	if x.db == nil {
		return nil
	}
	err := x.db.Close()
	x.db = nil
	return err
}

// LastSeq returns the highest indexed seq, or 0.
func (x *Index) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := x.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM events").Scan(&seq); err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq.Int64, nil
}

// Ingest inserts events in one transaction. Events already present are
// skipped. It returns how many rows were added.
func (x *Index) Ingest(ctx context.Context, events []bus.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO events
		(seq, ts, publisher, target, event, type, message, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare ingest: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return 0, fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
		res, err := stmt.ExecContext(ctx, ev.Seq, ev.TS, ev.Publisher, ev.Target, ev.Event, ev.Type, ev.Message(), string(data))
		if err != nil {
			return 0, fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}
	return added, nil
}

// syncWindow is how many seqs below the highest indexed one Sync re-reads.
// Seqs are claimed before their line is appended, so a lower seq can land
// in the log after a higher one was already indexed.
const syncWindow = 64

// Sync ingests every source event past the highest indexed seq, plus late
// arrivals within syncWindow of it.
func (x *Index) Sync(ctx context.Context, src Source) (int, error) {
	last, err := x.LastSeq(ctx)
	if err != nil {
		return 0, err
	}
	from := max(last-syncWindow, 0)
	events, err := src.Events(from)
	if err != nil {
		return 0, fmt.Errorf("read events after %d: %w", from, err)
	}
	return x.Ingest(ctx, events)
}

// Query returns indexed events matching opts, newest first.
func (x *Index) Query(ctx context.Context, opts QueryOpts) ([]Record, error) {
	query, args := buildQuery(opts)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.Seq, &ts, &r.Publisher, &r.Target, &r.Event, &r.Type, &r.Message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.TS = parsed
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT seq, ts, publisher, target, event, type, message FROM events WHERE 1=1"

	if opts.Publisher != "" {
		conditions = append(conditions, "publisher = ?")
		args = append(args, opts.Publisher)
	}
	if opts.Target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, opts.Target)
	}
	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.After != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, opts.After.UTC().Format(tsLayout))
	}
	if opts.Before != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, opts.Before.UTC().Format(tsLayout))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}
