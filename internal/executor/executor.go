// Package executor runs outbound trading calls on a single serial worker so
// the stream ingestion path never blocks on REST round trips.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/upbitbot/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("executor: queue full")
	// ErrDuplicate is returned by Submit when a job with the same key is
	// already queued or running.
	ErrDuplicate = errors.New("executor: job already in flight")
	// ErrStopped is returned by Submit after Run has returned.
	ErrStopped = errors.New("executor: worker stopped")
)

// DefaultQueueSize is the backlog used when none is configured.
const DefaultQueueSize = 64

// Job is one unit of trading work. Jobs sharing a Key never overlap.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// Worker executes submitted jobs one at a time in submission order.
type Worker struct {
	jobs   chan Job
	dedup  *Dedup
	logger *slog.Logger

	stopped atomic.Bool

	cleanupInterval time.Duration
	drainTimeout    time.Duration
}

// NewWorker creates a worker with a bounded backlog of queueSize jobs.
func NewWorker(queueSize int, logger *slog.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Worker{
		jobs:            make(chan Job, queueSize),
		dedup:           NewDedup(5 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
		drainTimeout:    5 * time.Second,
	}
}

// Submit enqueues job without blocking.
func (w *Worker) Submit(job Job) error {
	if w.stopped.Load() {
		metrics.RecordDropped("stopped")
		return ErrStopped
	}
	if job.Key != "" && !w.dedup.TryAcquire(job.Key) {
		metrics.RecordDropped("duplicate")
		return fmt.Errorf("%w: %s", ErrDuplicate, job.Key)
	}

	select {
	case w.jobs <- job:
		metrics.SetQueueDepth(len(w.jobs))
		return nil
	default:
		if job.Key != "" {
			w.dedup.Release(job.Key)
		}
		metrics.RecordDropped("queue_full")
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	return len(w.jobs)
}

// Run processes jobs until ctx is cancelled, then drains whatever is
// already queued under a short deadline and returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("trade worker started")
	defer w.logger.Info("trade worker stopped")

	cleanupTicker := time.NewTicker(w.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stopped.Store(true)
			w.drain()
			return ctx.Err()

		case job := <-w.jobs:
			metrics.SetQueueDepth(len(w.jobs))
			w.process(ctx, job)

		case <-cleanupTicker.C:
			w.dedup.Cleanup()
		}
	}
}

// process runs a single job and releases its key.
func (w *Worker) process(ctx context.Context, job Job) {
	if job.Key != "" {
		defer w.dedup.Release(job.Key)
	}

	log := w.logger.With(
		slog.String("job", job.Name),
		slog.String("key", job.Key),
	)

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error("job failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(started)),
		)
		return
	}
	log.Debug("job done", slog.Duration("elapsed", time.Since(started)))
}

// drain runs jobs still buffered after cancellation. Orders already decided
// are not silently dropped.
func (w *Worker) drain() {
	for {
		select {
		case job := <-w.jobs:
			w.logger.Warn("draining job after shutdown",
				slog.String("job", job.Name),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
			w.process(drainCtx, job)
			cancel()
		default:
			metrics.SetQueueDepth(0)
			return
		}
	}
}

// SetCleanupInterval changes how often lapsed keys are collected.
// Must be called before Run.
func (w *Worker) SetCleanupInterval(d time.Duration) {
	w.cleanupInterval = d
}
