// Package spikestore persists spike monitor output to SQLite so runs can be
// inspected after the process exits.
package spikestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalsfoundry/spikesim/core"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrRunNotFound is returned when a run ID has no stored row.
var ErrRunNotFound = errors.New("run not found")

// Run is the summary row stored for one simulation run.
type Run struct {
	ID        string
	Scenario  string
	DT        float64
	Duration  float64
	StartStep int64
	EndStep   int64
	Steps     int64
	Events    int64
	StartedAt time.Time
	Wall      time.Duration
}

// RunFromStats fills a Run from the statistics a Network returned.
func RunFromStats(id, scenario string, dt, duration float64, startedAt time.Time, stats core.RunStats) Run {
	return Run{
		ID:        id,
		Scenario:  scenario,
		DT:        dt,
		Duration:  duration,
		StartStep: stats.StartStep,
		EndStep:   stats.EndStep,
		Steps:     stats.Steps,
		Events:    stats.Events,
		StartedAt: startedAt,
		Wall:      stats.Wall,
	}
}

// Recording is the spike list of one monitor.
type Recording struct {
	Monitor string
	Source  string
	Spikes  []core.Spike
}

// Store is a SQLite-backed spike store. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open creates or opens the database at path, creating parent directories
// as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty spike store path", core.ErrInvalidConfiguration)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create spike store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveRun writes the run summary and every recording in one transaction.
// Saving a run ID twice fails and leaves the first copy intact.
func (s *Store) SaveRun(ctx context.Context, run Run, recs []Recording) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run ID is required", core.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, dt, duration, start_step, end_step, steps, events, started_ns, wall_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, run.DT, run.Duration, run.StartStep, run.EndStep,
		run.Steps, run.Events, run.StartedAt.UnixNano(), run.Wall.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %q: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spikes (run_id, monitor, source, idx, step, t) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare spike insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		for _, sp := range rec.Spikes {
			if _, err := stmt.ExecContext(ctx, run.ID, rec.Monitor, rec.Source, sp.Index, sp.Step, sp.Time); err != nil {
				return fmt.Errorf("failed to insert spike for %q: %w", rec.Monitor, err)
			}
		}
	}
	return tx.Commit()
}

// GetRun returns the stored summary of run id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, dt, duration, start_step, end_step, steps, events, started_ns, wall_ns
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return run, err
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, dt, duration, start_step, end_step, steps, events, started_ns, wall_ns
		FROM runs ORDER BY started_ns, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Spikes returns the spikes monitor recorded during run id, in the order
// they were recorded.
func (s *Store) Spikes(ctx context.Context, id, monitor string) ([]core.Spike, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, step, t FROM spikes
		WHERE run_id = ? AND monitor = ?
		ORDER BY step, rowid`, id, monitor)
	if err != nil {
		return nil, fmt.Errorf("failed to query spikes: %w", err)
	}
	defer rows.Close()

	var out []core.Spike
	for rows.Next() {
		var sp core.Spike
		if err := rows.Scan(&sp.Index, &sp.Step, &sp.Time); err != nil {
			return nil, fmt.Errorf("failed to scan spike: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its spikes.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run     Run
		startNS int64
		wallNS  int64
	)
	if err := sc.Scan(&run.ID, &run.Scenario, &run.DT, &run.Duration, &run.StartStep, &run.EndStep,
		&run.Steps, &run.Events, &startNS, &wallNS); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, startNS).UTC()
	run.Wall = time.Duration(wallNS)
	return run, nil
}
