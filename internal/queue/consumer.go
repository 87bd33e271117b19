/**
 * Queue Consumer for the SmartPaper layout worker
 *
 * Consumes page jobs from Redis through asynq and runs them through the
 * page processor.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sanbuphy/SmartPaper/internal/errors"
	"github.com/sanbuphy/SmartPaper/internal/processor"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.PageProcessorInterface
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.PageProcessorInterface
	ProcessingTimeout int64 // milliseconds, default 300000
}

// retryDelay backs off exponentially from 5s, capped at 60s
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
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

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Printf("Task processing error: type=%s, attempt=%d/%d, error=%v",
					task.Type(), retried+1, maxRetry+1, err)
			}),
		},
	)

	consumer := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
	}

	consumer.mux.HandleFunc(TaskTypeReconstructPage, consumer.handleReconstructPage)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")
	c.server.Shutdown()
	log.Printf("Queue consumer stopped")
	return nil
}

// handleReconstructPage processes one page job. Bad input is not retried.
func (c *Consumer) handleReconstructPage(ctx context.Context, task *asynq.Task) error {
	var job PageJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal page job: %v: %w", err, asynq.SkipRetry)
	}

	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid page job: %v: %w", err, asynq.SkipRetry)
	}

	timeout := time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	if _, err := runPageJob(ctx, c.processor, &job, timeout); err != nil {
		if !errors.IsRetryable(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"mode":        "asynq",
	}
}
