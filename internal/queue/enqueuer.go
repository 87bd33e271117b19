package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxRetry is how often a failed page job is retried
const DefaultMaxRetry = 3

// Enqueuer submits page jobs, through asynq or onto a Redis LIST
type Enqueuer struct {
	mode      string
	queueName string
	timeout   time.Duration
	asynq     *asynq.Client
	list      listClient
}

// NewEnqueuer creates an enqueuer for mode "asynq" or "list"
func NewEnqueuer(redisURL, queueName, mode string, timeout time.Duration) (*Enqueuer, error) {
	if queueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	e := &Enqueuer{mode: mode, queueName: queueName, timeout: timeout}

	switch mode {
	case "asynq", "":
		redisOpt, err := asynq.ParseRedisURI(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		e.mode = "asynq"
		e.asynq = asynq.NewClient(redisOpt)
	case "list":
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		e.list = redis.NewClient(opt)
	default:
		return nil, fmt.Errorf("unknown queue mode %q", mode)
	}

	return e, nil
}

// NewPageTask builds the asynq task for a page job
func NewPageTask(job *PageJob, queueName string, timeout time.Duration) (*asynq.Task, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page job: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(DefaultMaxRetry),
		asynq.TaskID(fmt.Sprintf("%s:%d", job.JobID, job.PageNumber)),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}

	return asynq.NewTask(TaskTypeReconstructPage, payload, opts...), nil
}

// Enqueue submits one page job and returns the queue's ID for it
func (e *Enqueuer) Enqueue(ctx context.Context, job *PageJob) (string, error) {
	if e.mode == "list" {
		return pushListJob(ctx, e.list, e.queueName, job, DefaultMaxRetry)
	}

	task, err := NewPageTask(job, e.queueName, e.timeout)
	if err != nil {
		return "", err
	}

	info, err := e.asynq.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue page %d of job %s: %w", job.PageNumber, job.JobID, err)
	}
	return info.ID, nil
}

// pushListJob stores the job body in <queue>:data and pushes its ID
func pushListJob(ctx context.Context, client listClient, queueName string, job *PageJob, maxRetries int) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	data := RedisJobData{
		ID:         uuid.New().String(),
		Type:       TaskTypeReconstructPage,
		Payload:    *job,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}

	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal page job: %w", err)
	}

	if err := client.HSet(ctx, queueName+":data", data.ID, body).Err(); err != nil {
		return "", fmt.Errorf("failed to store job data: %w", err)
	}
	if err := client.LPush(ctx, queueName, data.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to push job: %w", err)
	}
	return data.ID, nil
}

// Close releases the Redis connection
func (e *Enqueuer) Close() error {
	if e.asynq != nil {
		return e.asynq.Close()
	}
	if e.list != nil {
		return e.list.Close()
	}
	return nil
}

// ParsePageRange parses "1-3,5" into [1 2 3 5]. Pages are 1-based,
// duplicates are dropped and the input order is kept.
func ParsePageRange(s string) ([]int, error) {
	var pages []int
	seen := make(map[int]bool)

	add := func(p int) {
		if !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
		}
		if start < 1 || end < start {
			return nil, fmt.Errorf("invalid page range %q", part)
		}
		for p := start; p <= end; p++ {
			add(p)
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages in %q", s)
	}
	return pages, nil
}
