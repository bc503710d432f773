// package repositories provides the persistence layer for export run
// history, backed by SQLite.
package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"plexport/internal/models"
)

const runSchema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	playlist TEXT NOT NULL,
	exported_name TEXT NOT NULL DEFAULT '',
	server_id TEXT NOT NULL DEFAULT '',
	added INTEGER NOT NULL DEFAULT 0,
	missing INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_playlist ON sync_runs(playlist);
`

// RunRepository persists [models.SyncRun] records.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a RunRepository and ensures its schema exists.
func NewRunRepository(db *sql.DB) (*RunRepository, error) {
	if _, err := db.Exec(runSchema); err != nil {
		return nil, fmt.Errorf("failed to create sync_runs schema: %w", err)
	}
	return &RunRepository{db: db}, nil
}

// RecordRun inserts a terminal run summary.
func (r *RunRepository) RecordRun(run models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO sync_runs (id, job_id, playlist, exported_name, server_id, added, missing, failed, total, success, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		run.ID,
		run.JobID,
		run.Playlist,
		run.ExportedName,
		run.ServerID,
		run.Added,
		run.Missing,
		run.Failed,
		run.Total,
		boolToInt(run.Success),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	return nil
}

// List returns the most recent runs, newest first, limited to limit rows.
func (r *RunRepository) List(limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, job_id, playlist, exported_name, server_id, added, missing, failed, total, success, started_at, finished_at
		FROM sync_runs
		ORDER BY finished_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var success int
		var started, finished time.Time

		if err := rows.Scan(
			&run.ID,
			&run.JobID,
			&run.Playlist,
			&run.ExportedName,
			&run.ServerID,
			&run.Added,
			&run.Missing,
			&run.Failed,
			&run.Total,
			&success,
			&started,
			&finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		run.Success = success != 0
		run.StartedAt = started
		run.FinishedAt = finished
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync runs: %w", err)
	}

	return runs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
