package spikestore

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    scenario TEXT NOT NULL,
    dt REAL NOT NULL,
    duration REAL NOT NULL,
    start_step INTEGER NOT NULL,
    end_step INTEGER NOT NULL,
    steps INTEGER NOT NULL,
    events INTEGER NOT NULL,
    started_ns INTEGER NOT NULL,
    wall_ns INTEGER NOT NULL
);

-- One row per recorded spike; rowid keeps monitor order within a step.
CREATE TABLE IF NOT EXISTS spikes (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    monitor TEXT NOT NULL,
    source TEXT NOT NULL,
    idx INTEGER NOT NULL,
    step INTEGER NOT NULL,
    t REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spikes_run_monitor ON spikes(run_id, monitor, step);
`

// InitSchema creates the tables when missing and records the schema version.
func InitSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}
