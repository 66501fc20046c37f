package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/facefilter/internal/types"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Store manages the PostgreSQL connection holding render history.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS render_jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			filter_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			frames INT NOT NULL DEFAULT 0,
			faces INT NOT NULL DEFAULT 0,
			sprites INT NOT NULL DEFAULT 0,
			skipped INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS render_jobs_started_at_idx ON render_jobs (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartJob records a render as running.
func (s *Store) StartJob(ctx context.Context, job types.Job) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO render_jobs (id, kind, input, output, source_id, filter_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.ID, job.Kind, job.Input, job.Output, job.SourceID, job.FilterID, StatusRunning, job.StartedAt)
	return err
}

// FinishJob stores the final counters. A non-nil runErr marks the job failed.
func (s *Store) FinishJob(ctx context.Context, id string, stats types.JobStats, runErr error) error {
	status, msg := StatusDone, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE render_jobs
		SET status = $2, error = $3, frames = $4, faces = $5, sprites = $6, skipped = $7, finished_at = $8
		WHERE id = $1
	`, id, status, msg, stats.Frames, stats.Faces, stats.Sprites, stats.Skipped, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// ListJobs returns the most recent jobs first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, kind, input, output, source_id, filter_id, status, error,
		       frames, faces, sprites, skipped, started_at, finished_at
		FROM render_jobs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		var j types.Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.Input, &j.Output, &j.SourceID, &j.FilterID, &j.Status, &j.Error,
			&j.Stats.Frames, &j.Stats.Faces, &j.Stats.Sprites, &j.Stats.Skipped, &j.StartedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS render_jobs CASCADE;`)
	return err
}
