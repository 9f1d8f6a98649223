/**
 * Storage Manager for the pdf2md worker
 *
 * Coordinates the job store (PostgreSQL or SQLite) and the optional Qdrant
 * fragment index. Transcript writes go to Qdrant first and are rolled back
 * there if the job store rejects them.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// StorageManager coordinates the job store and the fragment index
type StorageManager struct {
	jobs   JobStore
	qdrant *QdrantClient
	logger *logging.Logger
}

// TranscriptInput is everything persisted for one finished conversion.
type TranscriptInput struct {
	JobID     string
	Fragments []FragmentRecord
	// Points are indexed when the manager has a Qdrant client.
	Points []*FragmentPoint
}

// NewStorageManager creates a storage manager. qdrant may be nil.
func NewStorageManager(jobs JobStore, qdrant *QdrantClient) (*StorageManager, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	return &StorageManager{
		jobs:   jobs,
		qdrant: qdrant,
		logger: logging.NewLogger("StorageManager"),
	}, nil
}

// Indexing reports whether fragments are vector-indexed.
func (sm *StorageManager) Indexing() bool {
	return sm.qdrant != nil
}

// StoreTranscript persists the transcript and indexes its fragments.
func (sm *StorageManager) StoreTranscript(ctx context.Context, input *TranscriptInput) error {
	if input == nil || input.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	indexed := false
	if sm.qdrant != nil && len(input.Points) > 0 {
		for _, p := range input.Points {
			p.JobID = input.JobID
		}
		if err := sm.qdrant.UpsertFragments(ctx, input.Points); err != nil {
			return fmt.Errorf("failed to index fragments: %w", err)
		}
		indexed = true
	}

	if err := sm.jobs.SaveTranscript(ctx, input.JobID, input.Fragments); err != nil {
		if indexed {
			if rbErr := sm.qdrant.DeleteJob(ctx, input.JobID); rbErr != nil {
				sm.logger.Error("Fragment index rollback failed", "jobId", input.JobID, "error", rbErr)
			}
		}
		return fmt.Errorf("failed to store transcript: %w", err)
	}
	return nil
}

// SearchFragments runs a vector search over indexed fragments.
func (sm *StorageManager) SearchFragments(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*FragmentPoint, error) {
	if sm.qdrant == nil {
		return nil, fmt.Errorf("fragment index is not configured")
	}
	return sm.qdrant.SearchFragments(ctx, queryVector, limit, jobID)
}

// UpdateJobStatus updates job status
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.jobs.UpdateJobStatus(ctx, update)
}

// GetJob retrieves a job by ID
func (sm *StorageManager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return sm.jobs.GetJob(ctx, jobID)
}

// GetFragments retrieves a job's stored transcript
func (sm *StorageManager) GetFragments(ctx context.Context, jobID string) ([]FragmentRecord, error) {
	return sm.jobs.GetFragments(ctx, jobID)
}

// GetStats returns storage statistics
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}

	if err := sm.jobs.Ping(ctx); err != nil {
		stats["job_store"] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
	} else {
		stats["job_store"] = map[string]interface{}{"status": "healthy"}
	}
	if pg, ok := sm.jobs.(*PostgresClient); ok {
		s := pg.GetStats()
		stats["postgres"] = map[string]interface{}{
			"open_connections": s.OpenConnections,
			"in_use":           s.InUse,
			"idle":             s.Idle,
		}
	}

	if sm.qdrant != nil {
		info, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = info
	}
	return stats, nil
}

// Close closes all storage connections
func (sm *StorageManager) Close() error {
	jobErr := sm.jobs.Close()

	var qdErr error
	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if jobErr != nil {
		return fmt.Errorf("failed to close job store: %w", jobErr)
	}
	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}
	return nil
}
