// Package eventlog persists profiler events in a sqlite database.
//
// A Log satisfies managed.EventSink, so it can be set as Settings.Events
// to keep a timestamped record of the runtime events a System observes.
package eventlog

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	time  INTEGER NOT NULL,
	kind  INTEGER NOT NULL,
	label TEXT NOT NULL,
	name  TEXT NOT NULL,
	bytes INTEGER NOT NULL
)`

// Log is an append-only event store.
type Log struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	closed bool
}

// Open opens or creates the log at path. ":memory:" keeps the log in
// memory for the lifetime of the Log.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.InvalidInput(errors.PhaseConfig, "event log path cannot be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindLoadFailure, err, "open event log "+path)
	}
	// One connection, so an in-memory database is shared by every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindLoadFailure, err, "set busy timeout")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindLoadFailure, err, "create events table")
	}
	return &Log{db: db, path: path}, nil
}

// Path returns the database path.
func (l *Log) Path() string { return l.path }

// Record appends ev. A zero Time is stamped with the current time.
func (l *Log) Record(ev clr.ProfileEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.NotInitialized(errors.PhaseRuntime, "event log")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := l.db.Exec(`INSERT INTO events (time, kind, label, name, bytes) VALUES (?, ?, ?, ?, ?)`,
		ev.Time.UnixNano(), int64(ev.Kind), ev.Kind.String(), ev.Name, int64(ev.Bytes))
	if err != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "record event")
	}
	return nil
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Kinds []clr.EventKind
	Name  string
	Since time.Time
	Limit int
}

// Events returns the events matching f, oldest first.
func (l *Log) Events(f Filter) ([]clr.ProfileEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "event log")
	}

	query := "SELECT time, kind, name, bytes FROM events"
	var where []string
	var args []any
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, int64(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if !f.Since.IsZero() {
		where = append(where, "time >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "query events")
	}
	defer rows.Close()

	var out []clr.ProfileEvent
	for rows.Next() {
		var (
			ts    int64
			kind  int64
			name  string
			bytes int64
		)
		if err := rows.Scan(&ts, &kind, &name, &bytes); err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "scan event")
		}
		out = append(out, clr.ProfileEvent{
			Time:  time.Unix(0, ts),
			Kind:  clr.EventKind(kind),
			Name:  name,
			Bytes: uint64(bytes),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "read events")
	}
	return out, nil
}

// Counts returns the number of stored events per kind.
func (l *Log) Counts() (map[clr.EventKind]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "event log")
	}

	rows, err := l.db.Query("SELECT kind, COUNT(*) FROM events GROUP BY kind")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "count events")
	}
	defer rows.Close()

	counts := make(map[clr.EventKind]int64)
	for rows.Next() {
		var kind, n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "scan count")
		}
		counts[clr.EventKind(kind)] = n
	}
	return counts, rows.Err()
}

// Clear deletes every stored event.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.NotInitialized(errors.PhaseRuntime, "event log")
	}
	if _, err := l.db.Exec("DELETE FROM events"); err != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "clear events")
	}
	return nil
}

// Close closes the database. Further calls fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
