/**
 * Direct Redis Queue Consumer for the SmartPaper layout worker
 *
 * Compatible with the Node RedisQueue producer: job IDs are pushed onto a
 * LIST and the job bodies live in the <queue>:data hash.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanbuphy/SmartPaper/internal/errors"
	"github.com/sanbuphy/SmartPaper/internal/processor"
)

// errNoJobs is returned by processNextJob when BRPOP times out
var errNoJobs = fmt.Errorf("no jobs available")

// listClient is the subset of the Redis client the LIST queue uses
type listClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Payload    PageJob   `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    listClient
	processor processor.PageProcessorInterface
	config    *RedisConsumerConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.PageProcessorInterface
	ProcessingTimeout int64 // milliseconds, default 300000
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "smartpaper:layout"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
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

	return newRedisConsumer(client, cfg), nil
}

func newRedisConsumer(client listClient, cfg *RedisConsumerConfig) *RedisConsumer {
	consumerCtx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		ctx:       consumerCtx,
		cancel:    cancel,
	}
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	log.Printf("Starting Redis queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	log.Println("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	log.Println("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-c.ctx.Done():
			log.Printf("Worker %d stopping", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if err == errNoJobs || c.ctx.Err() != nil {
				continue
			}
			log.Printf("Worker %d error: %v", id, err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
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

	id := result[1]

	jobData, err := c.client.HGet(c.ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.markStatus(id, "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	if err := job.Payload.Validate(); err != nil {
		c.markStatus(id, "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("invalid job %s: %w", id, err)
	}

	c.markStatus(id, "processing", nil)

	timeout := time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	pageResult, err := runPageJob(c.ctx, c.processor, &job.Payload, timeout)
	if err != nil {
		job.Attempts++
		if errors.IsRetryable(err) && job.Attempts < job.MaxRetries {
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, c.key("data"), id, updatedData)
			c.client.SRem(c.ctx, c.key("processing"), id)
			c.client.LPush(c.ctx, c.config.QueueName, id)
			log.Printf("[Job %s] Re-queued for retry (attempt %d/%d)", job.Payload.JobID, job.Attempts, job.MaxRetries)
			return nil
		}

		c.markStatus(id, "failed", map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		})
		return nil
	}

	c.markStatus(id, "completed", pageResult)
	return nil
}

// markStatus moves a job between the status sets and announces the change
func (c *RedisConsumer) markStatus(id string, status string, result interface{}) {
	switch status {
	case "processing":
		c.client.SAdd(c.ctx, c.key("processing"), id)
	case "completed":
		c.client.SRem(c.ctx, c.key("processing"), id)
		c.client.SAdd(c.ctx, c.key("completed"), id)
		if result != nil {
			resultData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, c.key("results"), id, resultData)
		}
	case "failed":
		c.client.SRem(c.ctx, c.key("processing"), id)
		c.client.SAdd(c.ctx, c.key("failed"), id)
		if result != nil {
			errorData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, c.key("errors"), id, errorData)
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     id,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, c.key("events"), eventData)
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	waiting, err := c.client.LLen(ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.key("processing")).Result()
	completed, _ := c.client.SCard(ctx, c.key("completed")).Result()
	failed, _ := c.client.SCard(ctx, c.key("failed")).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
