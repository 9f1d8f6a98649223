package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/pdf2md/internal/errors"
)

// Job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned by GetJob for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// Job is a persisted conversion job.
type Job struct {
	ID               string                 `json:"id"`
	Filename         string                 `json:"filename"`
	Status           string                 `json:"status"`
	Progress         int                    `json:"progress"`
	PageCount        int                    `json:"pageCount"`
	RegionCount      int                    `json:"regionCount"`
	FailedRegions    int                    `json:"failedRegions"`
	ProcessingTimeMs int64                  `json:"processingTimeMs"`
	Markdown         string                 `json:"markdown,omitempty"`
	ErrorCode        string                 `json:"errorCode,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// JobUpdate upserts a job. Zero-valued fields leave the stored value alone,
// except ErrorCode and ErrorMessage which are always replaced.
type JobUpdate struct {
	JobID            string
	Filename         string
	Status           string
	Progress         int
	PageCount        int
	RegionCount      int
	FailedRegions    int
	ProcessingTimeMs int64
	Markdown         string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// FragmentRecord is one stored fragment of a transcript.
type FragmentRecord struct {
	Page   int    `json:"page"`
	Region int    `json:"region"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Reason string `json:"reason,omitempty"`
}

// JobStore persists jobs and their transcripts.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	// SaveTranscript replaces the stored fragments of a job.
	SaveTranscript(ctx context.Context, jobID string, fragments []FragmentRecord) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetFragments(ctx context.Context, jobID string) ([]FragmentRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Store kinds accepted by OpenJobStore.
const (
	StoreNone     = "none"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// OpenJobStore opens the configured store. StoreNone yields a nil store.
func OpenJobStore(ctx context.Context, kind, sqlitePath, databaseURL string) (JobStore, error) {
	switch strings.ToLower(kind) {
	case StoreNone, "":
		return nil, nil
	case StoreSQLite:
		return NewSQLiteStore(ctx, sqlitePath)
	case StorePostgres:
		return NewPostgresClient(ctx, databaseURL)
	default:
		return nil, errors.NewConfigError("unsupported store %q (want none, sqlite or postgres)", kind)
	}
}

func validateUpdate(update *JobUpdate) error {
	if update == nil || update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// sanitizeText strips NUL bytes, which PostgreSQL TEXT rejects and OCR
// output occasionally contains.
func sanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
