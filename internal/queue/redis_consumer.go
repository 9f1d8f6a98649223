/**
 * Direct Redis Queue Consumer for the pdf2md worker
 *
 * Compatible with producers that push job IDs onto a Redis LIST and keep
 * the job bodies in a "<queue>:data" hash.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the actual job data
type JobPayload struct {
	JobData
}

// UnmarshalJSON accepts fileBuffer as a base64 string or as a serialized
// Node.js Buffer ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobData
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&p.JobData),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	p.FileBuffer = nil
	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.DocumentProcessorInterface
	config    *RedisConsumerConfig
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds, default 600000
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c, err := newRedisConsumer(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

func newRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "pdf2md:jobs"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logging.NewLogger("RedisConsumer"),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Enqueue stores a job body, appends its ID to the queue list and marks
// the job queued.
func (c *RedisConsumer) Enqueue(ctx context.Context, job *JobData) error {
	if job.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"id":         job.JobID,
		"type":       TaskConvert,
		"payload":    json.RawMessage(payload),
		"createdAt":  time.Now().UTC(),
		"attempts":   0,
		"maxRetries": 3,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key("data"), job.JobID, body)
	pipe.LPush(ctx, c.config.QueueName, job.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push job %s: %w", job.JobID, err)
	}
	if err := c.processor.UpdateJobStatus(ctx, job.JobID, storage.StatusQueued, 0, map[string]interface{}{
		"filename": job.Filename,
	}); err != nil {
		c.logger.Warn("Failed to record queued job", "jobId", job.JobID, "error", err)
	}
	return nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	log.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			log.Debug("Worker stopping")
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs && c.ctx.Err() == nil {
					log.Warn("Worker error", "error", err)
					time.Sleep(1 * time.Second)
				}
			}
		}
	}
}

// processNextJob blocks up to five seconds for the next job ID.
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	return c.handleJob(result[1])
}

func (c *RedisConsumer) handleJob(id string) error {
	raw, err := c.client.HGet(c.ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(id, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.client.SAdd(c.ctx, c.key("processing"), job.Payload.JobID)
	c.publish(job.Payload.JobID, storage.StatusProcessing)

	err = runJob(c.ctx, c.processor, &job.Payload.JobData, timeoutOf(c.config.ProcessingTimeout), c.logger)
	if err == nil {
		c.client.SRem(c.ctx, c.key("processing"), job.Payload.JobID)
		c.client.SAdd(c.ctx, c.key("completed"), job.Payload.JobID)
		c.publish(job.Payload.JobID, storage.StatusCompleted)
		return nil
	}

	job.Attempts++
	if job.Attempts < job.MaxRetries && errors.CodeOf(err) != errors.ErrorUnsupportedFormat {
		updated, _ := json.Marshal(job)
		c.client.HSet(c.ctx, c.key("data"), id, updated)
		c.client.LPush(c.ctx, c.config.QueueName, id)
		c.logger.Warn("Job re-queued for retry", "jobId", job.Payload.JobID, "attempt", job.Attempts, "maxRetries", job.MaxRetries)
		return nil
	}

	c.markFailed(job.Payload.JobID, map[string]interface{}{
		"error":    err.Error(),
		"attempts": job.Attempts,
	})
	return nil
}

func (c *RedisConsumer) markFailed(jobID string, detail map[string]interface{}) {
	c.client.SRem(c.ctx, c.key("processing"), jobID)
	c.client.SAdd(c.ctx, c.key("failed"), jobID)
	if data, err := json.Marshal(detail); err == nil {
		c.client.HSet(c.ctx, c.key("errors"), jobID, data)
	}
	c.publish(jobID, storage.StatusFailed)
}

// publish emits a job event on "<queue>:events" for streaming clients.
func (c *RedisConsumer) publish(jobID, status string) {
	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	data, _ := json.Marshal(event)
	c.client.Publish(c.ctx, c.key("events"), data)
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
