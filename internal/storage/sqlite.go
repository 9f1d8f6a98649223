package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL DEFAULT 'unknown.pdf',
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	page_count         INTEGER NOT NULL DEFAULT 0,
	region_count       INTEGER NOT NULL DEFAULT 0,
	failed_regions     INTEGER NOT NULL DEFAULT 0,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	markdown           TEXT NOT NULL DEFAULT '',
	error_code         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	metadata           TEXT NOT NULL DEFAULT '{}',
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fragments (
	job_id  TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	page    INTEGER NOT NULL,
	region  INTEGER NOT NULL,
	type    TEXT NOT NULL,
	status  TEXT NOT NULL,
	text    TEXT NOT NULL,
	reason  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (job_id, page, region)
);
`

// SQLiteStore is the single-file job store used by the CLI and small
// deployments.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logging.NewLogger("SQLiteStore")}, nil
}

// UpdateJobStatus upserts the job row, merging metadata keys.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if err := validateUpdate(update); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	metadata := map[string]interface{}{}
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM jobs WHERE id = ?`, update.JobID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to read job: %w", err)
	default:
		if err := json.Unmarshal([]byte(existing), &metadata); err != nil {
			s.logger.Warn("Discarding unreadable job metadata", "jobId", update.JobID, "error", err)
			metadata = map[string]interface{}{}
		}
	}
	for k, v := range update.Metadata {
		metadata[k] = v
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, filename, status, progress, page_count, region_count,
			failed_regions, processing_time_ms, markdown, error_code,
			error_message, metadata, created_at, updated_at
		) VALUES (?, COALESCE(NULLIF(?, ''), 'unknown.pdf'), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename = CASE WHEN excluded.filename = 'unknown.pdf' THEN jobs.filename ELSE excluded.filename END,
			status = excluded.status,
			progress = MAX(excluded.progress, jobs.progress),
			page_count = COALESCE(NULLIF(excluded.page_count, 0), jobs.page_count),
			region_count = COALESCE(NULLIF(excluded.region_count, 0), jobs.region_count),
			failed_regions = COALESCE(NULLIF(excluded.failed_regions, 0), jobs.failed_regions),
			processing_time_ms = COALESCE(NULLIF(excluded.processing_time_ms, 0), jobs.processing_time_ms),
			markdown = CASE WHEN excluded.markdown = '' THEN jobs.markdown ELSE excluded.markdown END,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`,
		update.JobID, update.Filename, update.Status, update.Progress,
		update.PageCount, update.RegionCount, update.FailedRegions,
		update.ProcessingTimeMs, update.Markdown, update.ErrorCode,
		update.ErrorMessage, string(metadataJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return tx.Commit()
}

// SaveTranscript replaces the job's fragments in one transaction.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, jobID string, fragments []FragmentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to clear fragments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fragments (job_id, page, region, type, status, text, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range fragments {
		if _, err := stmt.ExecContext(ctx, jobID, f.Page, f.Region, f.Type, f.Status, f.Text, f.Reason); err != nil {
			return fmt.Errorf("failed to insert fragment %d/%d: %w", f.Page, f.Region, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	return nil
}

// GetJob loads one job.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var (
		job                  Job
		metadataJSON         string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, status, progress, page_count, region_count,
			failed_regions, processing_time_ms, markdown, error_code,
			error_message, metadata, created_at, updated_at
		FROM jobs WHERE id = ?
	`, jobID).Scan(
		&job.ID, &job.Filename, &job.Status, &job.Progress, &job.PageCount,
		&job.RegionCount, &job.FailedRegions, &job.ProcessingTimeMs,
		&job.Markdown, &job.ErrorCode, &job.ErrorMessage, &metadataJSON,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(metadataJSON), &job.Metadata); err != nil {
		s.logger.Warn("Failed to decode job metadata", "jobId", jobID, "error", err)
	}
	return &job, nil
}

// GetFragments returns the stored fragments in page, region order.
func (s *SQLiteStore) GetFragments(ctx context.Context, jobID string) ([]FragmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page, region, type, status, text, reason
		FROM fragments WHERE job_id = ?
		ORDER BY page, region
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var out []FragmentRecord
	for rows.Next() {
		var f FragmentRecord
		if err := rows.Scan(&f.Page, &f.Region, &f.Type, &f.Status, &f.Text, &f.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
