// Package dispatcher runs the worker pool that drains the submission queue.
// Each worker holds at most one queue lease at a time; crash and shutdown
// recovery rely on that bound.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/service"
	"gavel/pkg/utils/contextkey"
	"gavel/pkg/utils/logger"
)

// Config controls pool size and polling cadence.
type Config struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"pollInterval"`

	// StopGrace bounds how long Stop waits for in-flight judging before
	// releasing leases.
	StopGrace time.Duration `yaml:"stopGrace"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		PollInterval: 500 * time.Millisecond,
		StopGrace:    30 * time.Second,
	}
}

// Dispatcher owns the worker goroutines.
type Dispatcher struct {
	cfg         Config
	judge       *service.JudgeService
	queue       repository.QueueRepository
	submissions repository.SubmissionRepository

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// stop tells workers to claim no further items; the worker context
	// stays alive through the grace period so in-flight judging finishes.
	stop chan struct{}

	mu        sync.Mutex
	workerIDs []string
	started   bool
	stopped   bool
}

// New creates a dispatcher.
func New(cfg Config, judge *service.JudgeService, queue repository.QueueRepository,
	submissions repository.SubmissionRepository) (*Dispatcher, error) {
	if judge == nil {
		return nil, errors.New("dispatcher: judge service is required")
	}
	if queue == nil {
		return nil, errors.New("dispatcher: queue repository is required")
	}
	if submissions == nil {
		return nil, errors.New("dispatcher: submission repository is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultConfig().StopGrace
	}
	return &Dispatcher{cfg: cfg, judge: judge, queue: queue, submissions: submissions}, nil
}

// Start launches the workers. Worker ids are fresh per start; leases left by a
// crashed process are recovered by the maintenance loop's stale release.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher: already started")
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.stop = make(chan struct{})
	for i := 0; i < d.cfg.Workers; i++ {
		workerID := "worker-" + uuid.NewString()
		d.workerIDs = append(d.workerIDs, workerID)
		d.wg.Add(1)
		go d.runWorker(ctx, workerID)
	}
	logger.Info(ctx, "dispatcher started", zap.Int("workers", d.cfg.Workers))
	return nil
}

// Stop first tells workers to claim no further items and lets in-flight
// judging finish within the grace period. Only after the grace elapses is the
// worker context cancelled; any leases still held are then released so the
// items and their submissions go back to PENDING for retry elsewhere.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	cancel := d.cancel
	stop := d.stop
	workerIDs := append([]string(nil), d.workerIDs...)
	d.mu.Unlock()

	close(stop)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.StopGrace):
		logger.Warn(ctx, "dispatcher stop grace elapsed, aborting in-flight judging")
	case <-ctx.Done():
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}

	var firstErr error
	for _, workerID := range workerIDs {
		released, failed, err := d.queue.ReleaseWorker(ctx, workerID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, item := range released {
			if perr := d.submissions.ReturnToPending(ctx, item.SubmissionID); perr != nil &&
				!errors.Is(perr, repository.ErrSubmissionNotFound) {
				logger.Error(ctx, "failed to return submission to pending",
					zap.String("submission_id", item.SubmissionID), zap.Error(perr))
			}
		}
		if len(released) > 0 || len(failed) > 0 {
			logger.Info(ctx, "released worker leases on shutdown",
				zap.String("worker_id", workerID),
				zap.Int("released", len(released)),
				zap.Int("failed", len(failed)))
		}
	}
	logger.Info(ctx, "dispatcher stopped")
	return firstErr
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID string) {
	defer d.wg.Done()
	ctx = contextkey.WithWorkerID(ctx, workerID)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		item, err := d.queue.ClaimNext(ctx, workerID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "claim failed", zap.Error(err))
		case item != nil:
			d.process(ctx, item, workerID)
			// Drain without waiting while work is available.
			continue
		}

		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, item *model.QueueItem, workerID string) {
	logger.Info(ctx, "claimed queue item",
		zap.String("queue_id", item.QueueID),
		zap.String("submission_id", item.SubmissionID),
		zap.Int("priority", item.Priority),
		zap.Int("retry_count", item.RetryCount))

	if err := d.judge.Process(ctx, item, workerID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown releases the lease.
			return
		}
		logger.Error(ctx, "judging errored",
			zap.String("queue_id", item.QueueID),
			zap.Error(err))
	}
}
