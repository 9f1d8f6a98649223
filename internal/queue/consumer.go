/**
 * Queue Consumer for the pdf2md worker
 *
 * Consumes conversion jobs from Redis through Asynq and runs them through
 * the document processor. The same package enqueues jobs for the API.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

// TaskConvert is the Asynq task type for a PDF conversion job.
const TaskConvert = "pdf2md:convert"

// DefaultProcessingTimeout bounds a single conversion.
const DefaultProcessingTimeout = 600000 * time.Millisecond

// JobData is the task payload of a conversion job.
type JobData struct {
	JobID          string                 `json:"jobId"`
	Filename       string                 `json:"filename"`
	FileURL        string                 `json:"fileUrl,omitempty"`
	FileBuffer     []byte                 `json:"fileBuffer,omitempty"`
	MaxPages       int                    `json:"maxPages,omitempty"`
	SourceLanguage string                 `json:"sourceLanguage,omitempty"`
	TargetLanguage string                 `json:"targetLanguage,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

func (j *JobData) request() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:          j.JobID,
		Filename:       j.Filename,
		FileURL:        j.FileURL,
		FileBuffer:     j.FileBuffer,
		MaxPages:       j.MaxPages,
		SourceLanguage: j.SourceLanguage,
		TargetLanguage: j.TargetLanguage,
		Metadata:       j.Metadata,
	}
}

// NewConvertTask builds the Asynq task for a job.
func NewConvertTask(job *JobData, queueName string) (*asynq.Task, error) {
	if job.JobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	if job.FileURL == "" && len(job.FileBuffer) == 0 {
		return nil, fmt.Errorf("job %s has neither fileUrl nor fileBuffer", job.JobID)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(job.JobID), asynq.MaxRetry(3)}
	if queueName != "" {
		opts = append(opts, asynq.Queue(queueName))
	}
	return asynq.NewTask(TaskConvert, payload, opts...), nil
}

// Consumer handles job consumption from Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.DocumentProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds, default 600000
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")
	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// 5s, 10s, 20s, capped at a minute
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
		},
	)

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}
	consumer.mux.HandleFunc(TaskConvert, consumer.handleConvert)

	return consumer, nil
}

// Enqueue submits a conversion job and marks it queued.
func (c *Consumer) Enqueue(ctx context.Context, job *JobData) error {
	task, err := NewConvertTask(job, c.config.QueueName)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	if err := c.processor.UpdateJobStatus(ctx, job.JobID, storage.StatusQueued, 0, map[string]interface{}{
		"filename": job.Filename,
	}); err != nil {
		c.logger.Warn("Failed to record queued job", "jobId", job.JobID, "error", err)
	}
	c.logger.Info("Job enqueued", "jobId", job.JobID, "queue", c.config.QueueName)
	return nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	c.logger.Info("Queue consumer stopped")
	return nil
}

func (c *Consumer) handleConvert(ctx context.Context, task *asynq.Task) error {
	var job JobData
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w: %v", asynq.SkipRetry, err)
	}
	return runJob(ctx, c.processor, &job, timeoutOf(c.config.ProcessingTimeout), c.logger)
}

func timeoutOf(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return DefaultProcessingTimeout
}

// runJob converts one job and records its final status. Both consumers
// share it.
func runJob(ctx context.Context, proc processor.DocumentProcessorInterface, job *JobData, timeout time.Duration, logger *logging.Logger) error {
	startTime := time.Now()
	log := logger.With("jobId", job.JobID)
	log.Info("Processing document", "filename", job.Filename, "size", len(job.FileBuffer), "timeout", timeout)

	if err := proc.UpdateJobStatus(ctx, job.JobID, storage.StatusProcessing, 0, map[string]interface{}{
		"filename": job.Filename,
	}); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := proc.ProcessDocument(processCtx, job.request())
	duration := time.Since(startTime)

	if err != nil {
		var failure map[string]interface{}
		if processCtx.Err() == context.DeadlineExceeded {
			log.Error("Processing timed out", "duration", duration, "timeout", timeout)
			timeoutErr := errors.NewProcessingTimeoutError(job.JobID, timeout, err)
			failure = timeoutErr.ToMap()
			failure["error"] = timeoutErr.Error()
			failure["errorCode"] = string(timeoutErr.Code)
			err = timeoutErr
		} else {
			log.Error("Processing failed", "duration", duration, "error", err)
			failure = map[string]interface{}{
				"error":     err.Error(),
				"errorCode": string(errors.CodeOf(err)),
			}
		}
		failure["processingTime"] = duration.Milliseconds()

		if updateErr := proc.UpdateJobStatus(ctx, job.JobID, storage.StatusFailed, 100, failure); updateErr != nil {
			log.Warn("Failed to update status to failed", "error", updateErr)
		}
		return fmt.Errorf("document processing failed: %w", err)
	}

	log.Info("Processing completed",
		"duration", duration,
		"pages", result.PageCount,
		"regions", result.RegionCount,
		"failedRegions", result.FailedRegions,
		"ocrErrors", result.OCRErrors,
		"skippedPages", len(result.SkippedPages))

	if err := proc.UpdateJobStatus(ctx, job.JobID, storage.StatusCompleted, 100, CompletedMetadata(result, duration)); err != nil {
		log.Warn("Failed to update status to completed", "error", err)
	}
	return nil
}

// CompletedMetadata is the status metadata recorded for a finished conversion.
func CompletedMetadata(result *processor.ProcessResult, duration time.Duration) map[string]interface{} {
	meta := map[string]interface{}{
		"markdown":       result.Markdown,
		"pageCount":      result.PageCount,
		"regionCount":    result.RegionCount,
		"failedRegions":  result.FailedRegions,
		"droppedRegions": result.DroppedRegions,
		"processingTime": duration.Milliseconds(),
	}
	if result.OCRErrors > 0 {
		meta["ocrErrors"] = result.OCRErrors
	}
	if len(result.SkippedPages) > 0 {
		meta["skippedPages"] = result.SkippedPages
	}
	if len(result.FallbackPages) > 0 {
		meta["fallbackPages"] = result.FallbackPages
	}
	if result.ArtifactID != "" {
		meta["artifactId"] = result.ArtifactID
	}
	if result.FragmentsIndexed > 0 {
		meta["fragmentsIndexed"] = result.FragmentsIndexed
	}
	return meta
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
