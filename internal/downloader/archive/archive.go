package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/cuongbtq/hls-downloader/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const createSchemaSQL = `
	CREATE TABLE IF NOT EXISTS download_jobs (
		job_id           TEXT PRIMARY KEY,
		source_url       TEXT NOT NULL,
		status           TEXT NOT NULL,
		bytes_downloaded BIGINT NOT NULL DEFAULT 0,
		output_path      TEXT,
		error            TEXT,
		started_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ
	)
`

// Upsert keyed by job id keeps RecordTerminal idempotent under retries.
const upsertTerminalSQL = `
	INSERT INTO download_jobs (
		job_id, source_url, status, bytes_downloaded,
		output_path, error, started_at, finished_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8
	)
	ON CONFLICT (job_id) DO UPDATE SET
		status           = EXCLUDED.status,
		bytes_downloaded = EXCLUDED.bytes_downloaded,
		output_path      = EXCLUDED.output_path,
		error            = EXCLUDED.error,
		finished_at      = EXCLUDED.finished_at
`

// terminalRecordArgs lays the snapshot out in upsertTerminalSQL's
// placeholder order.
func terminalRecordArgs(job domain.Snapshot) []any {
	return []any{
		job.ID,
		job.SourceURL,
		string(job.Status),
		job.BytesDownloaded,
		job.OutputPath,
		job.Error,
		job.StartedAt,
		job.FinishedAt,
	}
}

// Storage keeps a durable history of terminal job outcomes in PostgreSQL.
// The in-memory registry stays authoritative for live jobs; this archive
// only exists so operators can see what happened across restarts.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates the archive on top of the shared PostgreSQL client.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// EnsureSchema creates the archive table when it does not exist yet.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return nil
}

// RecordTerminal writes one row for a job that reached a terminal state.
func (s *Storage) RecordTerminal(ctx context.Context, job domain.Snapshot) error {
	_, err := s.db.ExecContext(ctx, upsertTerminalSQL, terminalRecordArgs(job)...)
	if err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}

	s.logger.Debug("Job outcome archived",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	return nil
}
