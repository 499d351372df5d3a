// Package history is an optional Postgres sink for finished jobs. The
// authoritative job state lives in memory for the process lifetime; hosts
// that want an audit trail across restarts point HISTORY_DSN at a database
// and every terminal job gets archived here.
package history

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"transcription-scheduler/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Recorder archives terminal jobs and audit events. A nil Recorder is valid
// and drops everything, so callers never branch on whether history is on.
type Recorder struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection and runs migrations.
func New(ctx context.Context, dsn string) (*Recorder, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse history dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect history db: %w", err)
	}
	r := &Recorder{pool: pool}
	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) runMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := r.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (r *Recorder) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// RecordTerminal archives the final snapshot of a job.
func (r *Recorder) RecordTerminal(ctx context.Context, job models.Job) error {
	if r == nil {
		return nil
	}
	var errKind, errMsg *string
	if job.Error != nil {
		errKind = &job.Error.Kind
		errMsg = &job.Error.Message
	}
	var resultText *string
	if job.Result != nil {
		resultText = &job.Result.Text
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_history (id, fingerprint, priority, status, progress, attempts,
			error_kind, error_message, result_text, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.Fingerprint, job.Priority, job.Status, job.Progress, job.Attempts,
		errKind, errMsg, resultText, job.CreatedAt, job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert job history: %w", err)
	}
	return nil
}

// AppendAudit adds an audit row for a job event.
func (r *Recorder) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	if r == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}
