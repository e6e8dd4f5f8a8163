// Package stats keeps a history of finished runs in a SQLite database.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/chazu/stackvm/vm"
)

var log = commonlog.GetLogger("stackvm.stats")

// Outcomes recorded for a run.
const (
	OutcomeOK        = "ok"
	OutcomeFault     = "fault"
	OutcomeCancelled = "cancelled"
)

// Run is one recorded execution.
type Run struct {
	ID      uuid.UUID
	ImageID uuid.UUID // uuid.Nil when the program was assembled from source
	Program string
	Started time.Time
	Outcome string
	Error   string
	Stats   vm.Stats
}

// NewRun describes a finished run of program. err is what Machine.Run
// returned.
func NewRun(program string, imageID uuid.UUID, started time.Time, s vm.Stats, err error) *Run {
	r := &Run{
		ID:      uuid.New(),
		ImageID: imageID,
		Program: program,
		Started: started,
		Outcome: OutcomeOf(err),
		Stats:   s,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// OutcomeOf classifies the error returned by a run.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFault
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	image_id       TEXT NOT NULL DEFAULT '',
	program        TEXT NOT NULL,
	started        INTEGER NOT NULL,
	outcome        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	instructions   INTEGER NOT NULL,
	cpu_ns         INTEGER NOT NULL,
	user_ns        INTEGER NOT NULL,
	pool_hits      INTEGER NOT NULL,
	pool_misses    INTEGER NOT NULL,
	pool_max_live  INTEGER NOT NULL,
	pool_available INTEGER NOT NULL,
	fibers         INTEGER NOT NULL,
	strings        INTEGER NOT NULL,
	heap_slots     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started ON runs (started);
`

// Store is an open run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("stats: open %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: configure %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: create schema in %s: %w", path, err)
	}
	log.Debugf("opened run history %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r. A run with the nil ID is given a fresh one.
func (s *Store) Record(ctx context.Context, r *Run) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	imageID := ""
	if r.ImageID != uuid.Nil {
		imageID = r.ImageID.String()
	}
	st := r.Stats
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, image_id, program, started, outcome, error,
			instructions, cpu_ns, user_ns, pool_hits, pool_misses,
			pool_max_live, pool_available, fibers, strings, heap_slots)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), imageID, r.Program, r.Started.UnixNano(), r.Outcome, r.Error,
		int64(st.Instructions), int64(st.CPUTime), int64(st.UserTime),
		int64(st.Pool.Hits), int64(st.Pool.Misses), st.Pool.MaxLive, st.Pool.Available,
		st.Fibers, st.Strings, st.HeapSlots)
	if err != nil {
		return fmt.Errorf("stats: record run %s: %w", r.ID, err)
	}
	log.Debugf("recorded run %s of %s", r.ID, r.Program)
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, image_id, program, started, outcome, error,
			instructions, cpu_ns, user_ns, pool_hits, pool_misses,
			pool_max_live, pool_available, fibers, strings, heap_slots
		FROM runs ORDER BY started DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("stats: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r            Run
			id, imageID  string
			started      int64
			instructions int64
			cpu, user    int64
			hits, misses int64
		)
		err := rows.Scan(&id, &imageID, &r.Program, &started, &r.Outcome, &r.Error,
			&instructions, &cpu, &user, &hits, &misses,
			&r.Stats.Pool.MaxLive, &r.Stats.Pool.Available,
			&r.Stats.Fibers, &r.Stats.Strings, &r.Stats.HeapSlots)
		if err != nil {
			return nil, fmt.Errorf("stats: scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("stats: run id %q: %w", id, err)
		}
		if imageID != "" {
			if r.ImageID, err = uuid.Parse(imageID); err != nil {
				return nil, fmt.Errorf("stats: image id %q: %w", imageID, err)
			}
		}
		r.Started = time.Unix(0, started)
		r.Stats.Instructions = uint64(instructions)
		r.Stats.CPUTime = time.Duration(cpu)
		r.Stats.UserTime = time.Duration(user)
		r.Stats.Pool.Hits = uint64(hits)
		r.Stats.Pool.Misses = uint64(misses)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: query runs: %w", err)
	}
	return runs, nil
}

// Count returns the number of recorded runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("stats: count runs: %w", err)
	}
	return n, nil
}
