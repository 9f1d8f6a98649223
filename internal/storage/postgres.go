/**
 * PostgreSQL Client for the pdf2md worker
 *
 * Persists conversion jobs and their per-region transcripts.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS pdf2md;

CREATE TABLE IF NOT EXISTS pdf2md.jobs (
	id                 UUID PRIMARY KEY,
	filename           TEXT NOT NULL DEFAULT 'unknown.pdf',
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	page_count         INTEGER NOT NULL DEFAULT 0,
	region_count       INTEGER NOT NULL DEFAULT 0,
	failed_regions     INTEGER NOT NULL DEFAULT 0,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	markdown           TEXT,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pdf2md.fragments (
	job_id  UUID NOT NULL REFERENCES pdf2md.jobs(id) ON DELETE CASCADE,
	page    INTEGER NOT NULL,
	region  INTEGER NOT NULL,
	type    TEXT NOT NULL,
	status  TEXT NOT NULL,
	text    TEXT NOT NULL,
	reason  TEXT,
	PRIMARY KEY (job_id, page, region)
);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresClient connects, configures the pool and ensures the schema.
func NewPostgresClient(ctx context.Context, databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresClient{db: db, logger: logging.NewLogger("PostgresClient")}, nil
}

// UpdateJobStatus upserts the job row, creating it on first sight.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if err := validateUpdate(update); err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO pdf2md.jobs (
			id, filename, status, progress, page_count, region_count,
			failed_regions, processing_time_ms, markdown, error_code,
			error_message, metadata, created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'unknown.pdf'), $3, $4, $5, $6,
			$7, $8, NULLIF($9, ''), NULLIF($10, ''),
			NULLIF($11, ''), COALESCE(NULLIF($12, 'null')::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			filename = CASE WHEN $2 = '' THEN pdf2md.jobs.filename ELSE EXCLUDED.filename END,
			status = EXCLUDED.status,
			progress = GREATEST(EXCLUDED.progress, pdf2md.jobs.progress),
			page_count = COALESCE(NULLIF(EXCLUDED.page_count, 0), pdf2md.jobs.page_count),
			region_count = COALESCE(NULLIF(EXCLUDED.region_count, 0), pdf2md.jobs.region_count),
			failed_regions = COALESCE(NULLIF(EXCLUDED.failed_regions, 0), pdf2md.jobs.failed_regions),
			processing_time_ms = COALESCE(NULLIF(EXCLUDED.processing_time_ms, 0), pdf2md.jobs.processing_time_ms),
			markdown = COALESCE(EXCLUDED.markdown, pdf2md.jobs.markdown),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = pdf2md.jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query,
		update.JobID,
		update.Filename,
		update.Status,
		update.Progress,
		update.PageCount,
		update.RegionCount,
		update.FailedRegions,
		update.ProcessingTimeMs,
		sanitizeText(update.Markdown),
		update.ErrorCode,
		update.ErrorMessage,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// SaveTranscript replaces the job's fragments in one transaction.
func (p *PostgresClient) SaveTranscript(ctx context.Context, jobID string, fragments []FragmentRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pdf2md.fragments WHERE job_id = $1::uuid`, jobID); err != nil {
		return fmt.Errorf("failed to clear fragments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("pdf2md", "fragments",
		"job_id", "page", "region", "type", "status", "text", "reason"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, f := range fragments {
		if _, err := stmt.ExecContext(ctx, jobID, f.Page, f.Region, f.Type, f.Status, sanitizeText(f.Text), f.Reason); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy fragment %d/%d: %w", f.Page, f.Region, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush fragments: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	return nil
}

// GetJob loads one job.
func (p *PostgresClient) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT id, filename, status, progress, page_count, region_count,
			failed_regions, processing_time_ms, markdown, error_code,
			error_message, metadata, created_at, updated_at
		FROM pdf2md.jobs
		WHERE id = $1::uuid
	`

	var (
		job          Job
		markdown     sql.NullString
		errorCode    sql.NullString
		errorMessage sql.NullString
		metadataJSON []byte
	)
	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.Filename, &job.Status, &job.Progress, &job.PageCount,
		&job.RegionCount, &job.FailedRegions, &job.ProcessingTimeMs,
		&markdown, &errorCode, &errorMessage, &metadataJSON,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Markdown = markdown.String
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			p.logger.Warn("Failed to decode job metadata", "jobId", jobID, "error", err)
		}
	}
	return &job, nil
}

// GetFragments returns the stored fragments in page, region order.
func (p *PostgresClient) GetFragments(ctx context.Context, jobID string) ([]FragmentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT page, region, type, status, text, COALESCE(reason, '')
		FROM pdf2md.fragments
		WHERE job_id = $1::uuid
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
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns database connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

var (
	jsonNullEscape    = regexp.MustCompile(`\\u0000`)
	jsonControlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escape sequences JSONB rejects: \u0000 is
// dropped, other control characters become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := jsonNullEscape.ReplaceAll(jsonBytes, []byte{})
	return jsonControlEscape.ReplaceAll(result, []byte(" "))
}
