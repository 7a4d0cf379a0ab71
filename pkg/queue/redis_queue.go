package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/observability"
)

var errMalformedJob = errors.New(errors.KindInternal, "malformed queue job")

// RedisQueue is the Redis Streams implementation of TaskQueue. Tasks are
// published to a stream and consumed through a consumer group so delivery
// is at-least-once with per-job delivery counts.
type RedisQueue struct {
	client  redis.UniversalClient
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewRedisQueue connects to the broker and verifies connectivity
func NewRedisQueue(ctx context.Context, cfg Config, logger observability.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	q := NewRedisQueueWithClient(client, cfg, logger)
	if err := q.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "queue: redis unreachable")
	}
	return q, nil
}

// NewRedisQueueWithClient wraps an existing client. Used by tests and by
// callers sharing a connection pool.
func NewRedisQueueWithClient(client redis.UniversalClient, cfg Config, logger observability.Logger) *RedisQueue {
	if cfg.TaskStream == "" {
		cfg.TaskStream = DefaultConfig().TaskStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultConfig().Group
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-queue",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Queue circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return &RedisQueue{client: client, cfg: cfg, breaker: breaker, logger: logger}
}

// Enqueue publishes the task identifier to the task stream and returns the
// stream entry id. The payload is the id and the delivery cap, nothing else.
// The cap is always written so a zero (no retries) is preserved and not
// confused with an absent field.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID uuid.UUID, opts EnqueueOptions) (string, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	values := map[string]interface{}{
		fieldTaskID:      taskID.String(),
		fieldMaxAttempts: strconv.Itoa(maxAttempts),
	}

	result, err := q.breaker.Execute(func() (interface{}, error) {
		return q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.TaskStream,
			Values: values,
		}).Result()
	})
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "queue: enqueue failed")
	}

	id := result.(string)
	q.logger.Debug("Task enqueued", map[string]interface{}{
		"task_id":    taskID.String(),
		"message_id": id,
	})
	return id, nil
}

// EnsureGroup creates the consumer group if it does not exist yet. The
// group starts at the beginning of the stream so jobs published before the
// first worker came up are still delivered.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.TaskStream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, errors.KindInternal, "queue: create consumer group")
	}
	return nil
}

// ReadJobs blocks up to block for new jobs delivered to consumer. Fresh
// deliveries carry an attempt count of one.
func (q *RedisQueue) ReadJobs(ctx context.Context, consumer string, count int64, block time.Duration) ([]Job, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.TaskStream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "queue: read group")
	}

	var jobs []Job
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			job, err := parseJob(msg, 1)
			if err != nil {
				q.discardMalformed(ctx, msg)
				continue
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// ClaimStale transfers jobs pending longer than minIdle to consumer and
// returns them with their broker delivery counts. It is how retried jobs
// (left unacknowledged by a previous attempt) get redelivered.
func (q *RedisQueue) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Job, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.TaskStream,
		Group:  q.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   minIdle,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, errors.KindInternal, "queue: read pending")
	}
	if len(pending) == 0 {
		return nil, nil
	}

	attempts := make(map[string]int, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		// XCLAIM increments the delivery counter, so the claimed
		// delivery is RetryCount+1.
		attempts[p.ID] = int(p.RetryCount) + 1
	}

	msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.TaskStream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, errors.KindInternal, "queue: claim pending")
	}

	var jobs []Job
	for _, msg := range msgs {
		job, err := parseJob(msg, attempts[msg.ID])
		if err != nil {
			q.discardMalformed(ctx, msg)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack acknowledges a delivered job, removing it from the pending list
func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	if err := q.client.XAck(ctx, q.cfg.TaskStream, q.cfg.Group, job.MessageID).Err(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "queue: ack")
	}
	return nil
}

// DeadLetter copies a job to the dead-letter stream with the failure
// reason and acknowledges the original so it is never redelivered.
func (q *RedisQueue) DeadLetter(ctx context.Context, job Job, reason string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DeadLetterStream(),
		Values: map[string]interface{}{
			fieldTaskID: job.TaskID.String(),
			"reason":    reason,
			"attempts":  strconv.Itoa(job.Attempts),
			"failed_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
		},
	}).Err()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "queue: dead letter")
	}
	q.logger.Warn("Task moved to dead letter stream", map[string]interface{}{
		"task_id":  job.TaskID.String(),
		"reason":   reason,
		"attempts": job.Attempts,
	})
	return q.Ack(ctx, job)
}

// PendingCount reports how many deliveries are outstanding for the group
func (q *RedisQueue) PendingCount(ctx context.Context) (int64, error) {
	info, err := q.client.XPending(ctx, q.cfg.TaskStream, q.cfg.Group).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "queue: pending count")
	}
	return info.Count, nil
}

// Ping verifies broker connectivity
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "queue: ping")
	}
	return nil
}

// Close releases the underlying connection pool
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// discardMalformed acks an entry that cannot be decoded so it does not
// poison the pending list.
func (q *RedisQueue) discardMalformed(ctx context.Context, msg redis.XMessage) {
	q.logger.Error("Discarding malformed queue entry", map[string]interface{}{
		"message_id": msg.ID,
	})
	_ = q.client.XAck(ctx, q.cfg.TaskStream, q.cfg.Group, msg.ID)
}
