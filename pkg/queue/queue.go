// Package queue implements the handoff between Foreman state and the
// message broker. The contract is ID-only enqueue: the payload published
// for a task carries nothing but the task identifier (plus transport-level
// attributes); workers fetch all substantive data from Foreman. The
// database stays the source of truth and the broker is replaceable.
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/foreman-dev/foreman/pkg/models"
)

// Stream field names. task_id is the only field workers examine; the rest
// are transport attributes.
const (
	fieldTaskID      = "task_id"
	fieldMaxAttempts = "max_attempts"
)

// Job is one dequeued broker job
type Job struct {
	// MessageID is the broker-side job id (stream entry id)
	MessageID string
	// TaskID is the only substantive payload field
	TaskID uuid.UUID
	// MaxAttempts is the broker-configured maximum for this job,
	// defaulted from the task's max_retries at enqueue time
	MaxAttempts int
	// Attempts is the broker's delivery count including the current attempt
	Attempts int
}

// EnqueueOptions are transport-level attributes for a job
type EnqueueOptions struct {
	// MaxAttempts caps broker deliveries. Zero is a real cap (no
	// retries, fail on the first unsuccessful attempt), not a default.
	MaxAttempts int
}

// TaskQueue is the broker abstraction: any durable queue with
// at-least-once delivery satisfies it.
type TaskQueue interface {
	// Enqueue publishes a task identifier and returns the broker job id
	Enqueue(ctx context.Context, taskID uuid.UUID, opts EnqueueOptions) (string, error)
	// Ping verifies broker connectivity
	Ping(ctx context.Context) error
	// Close releases broker connections
	Close() error
}

// Config holds broker connection and stream settings
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	TaskStream   string `mapstructure:"task_stream"`
	ResultStream string `mapstructure:"result_stream"`
	Group        string `mapstructure:"group"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		TaskStream:   "foreman:tasks",
		ResultStream: "foreman:results",
		Group:        "foreman-workers",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		PoolSize:     10,
	}
}

// DeadLetterStream is the stream receiving permanently failed jobs
func (c Config) DeadLetterStream() string {
	return c.TaskStream + ":dlq"
}

// parseJob decodes a stream entry into a Job. attempts is the delivery
// count the caller observed for this entry.
func parseJob(msg redis.XMessage, attempts int) (Job, error) {
	job := Job{MessageID: msg.ID, MaxAttempts: models.DefaultMaxRetries, Attempts: attempts}

	raw, ok := msg.Values[fieldTaskID].(string)
	if !ok {
		return job, errMalformedJob
	}
	taskID, err := uuid.Parse(raw)
	if err != nil {
		return job, errMalformedJob
	}
	job.TaskID = taskID

	// Entries from producers that omit the cap keep the default
	if v, ok := msg.Values[fieldMaxAttempts].(string); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			job.MaxAttempts = n
		}
	}
	return job, nil
}
