package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
)

// Worker runs the consume loop: fresh jobs are read through the consumer
// group, stale pending jobs are periodically claimed from crashed or
// retrying consumers, and every job is handed to the processor under a
// bounded concurrency limit.
type Worker struct {
	queue     *queue.RedisQueue
	processor *Processor
	cfg       config.WorkerConfig
	consumer  string
	logger    observability.Logger

	sem  chan struct{}
	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

func New(q *queue.RedisQueue, processor *Processor, cfg config.WorkerConfig, logger observability.Logger) *Worker {
	consumer := cfg.Consumer
	if consumer == "" {
		if host, err := os.Hostname(); err == nil {
			consumer = host
		} else {
			consumer = "foreman-worker"
		}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Worker{
		queue:     q,
		processor: processor,
		cfg:       cfg,
		consumer:  consumer,
		logger:    logger,
		sem:       make(chan struct{}, cfg.Concurrency),
		stop:      make(chan struct{}),
	}
}

// Run consumes until ctx is cancelled or Stop is called, then waits for
// in-flight jobs to finish.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	w.logger.Info("Worker started", map[string]interface{}{
		"consumer":    w.consumer,
		"concurrency": w.cfg.Concurrency,
	})

	w.wg.Add(1)
	go w.claimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case <-w.stop:
			w.drain()
			return nil
		default:
		}

		jobs, err := w.queue.ReadJobs(ctx, w.consumer, int64(w.cfg.Concurrency), w.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.drain()
				return ctx.Err()
			}
			w.logger.Error("Queue read failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}
		w.dispatch(ctx, jobs)
	}
}

// Stop signals the consume loop to exit after the current read
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stop) })
}

// claimLoop periodically picks up jobs whose consumer died or declined to
// acknowledge them (the retry path).
func (w *Worker) claimLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			jobs, err := w.queue.ClaimStale(ctx, w.consumer, w.cfg.ClaimMinIdle, int64(w.cfg.Concurrency))
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("Claiming stale jobs failed", map[string]interface{}{"error": err.Error()})
				}
				continue
			}
			w.dispatch(ctx, jobs)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, jobs []queue.Job) {
	for _, job := range jobs {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(job queue.Job) {
			defer func() {
				<-w.sem
				w.wg.Done()
			}()
			if err := w.processor.Process(ctx, job); err != nil {
				w.logger.Error("Job processing failed", map[string]interface{}{
					"task_id":    job.TaskID.String(),
					"message_id": job.MessageID,
					"error":      err.Error(),
				})
			}
		}(job)
	}
}

func (w *Worker) drain() {
	w.logger.Info("Worker draining", nil)
	w.wg.Wait()
}
