// Package maintenance runs the periodic housekeeping loop: stale lease
// recovery, exhausted-item finalization, terminal-record purging and a queue
// health snapshot.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	"gavel/pkg/utils/logger"
)

// Config controls cadence and retention.
type Config struct {
	Interval time.Duration `yaml:"interval"`

	// StaleAfter is how long a RUNNING lease may hold before it is
	// presumed dead and released.
	StaleAfter time.Duration `yaml:"staleAfter"`

	// CompletedRetention is how long COMPLETED queue items are kept.
	CompletedRetention time.Duration `yaml:"completedRetention"`

	// ExecutionRetention is how long terminal ad-hoc executions are kept.
	ExecutionRetention time.Duration `yaml:"executionRetention"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           time.Minute,
		StaleAfter:         30 * time.Minute,
		CompletedRetention: 24 * time.Hour,
		ExecutionRetention: 7 * 24 * time.Hour,
	}
}

// Loop is the maintenance ticker.
type Loop struct {
	cfg         Config
	queue       repository.QueueRepository
	submissions repository.SubmissionRepository
	executions  repository.ExecutionRepository
	events      repository.EventPublisher

	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	started bool

	now func() time.Time
}

// New creates a maintenance loop. executions may be nil when ad-hoc execution
// is disabled.
func New(cfg Config, queue repository.QueueRepository, submissions repository.SubmissionRepository,
	executions repository.ExecutionRepository, events repository.EventPublisher) (*Loop, error) {
	if queue == nil {
		return nil, errors.New("maintenance: queue repository is required")
	}
	if submissions == nil {
		return nil, errors.New("maintenance: submission repository is required")
	}
	if events == nil {
		return nil, errors.New("maintenance: event publisher is required")
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = def.CompletedRetention
	}
	if cfg.ExecutionRetention <= 0 {
		cfg.ExecutionRetention = def.ExecutionRetention
	}
	return &Loop{
		cfg:         cfg,
		queue:       queue,
		submissions: submissions,
		executions:  executions,
		events:      events,
		now:         time.Now,
	}, nil
}

// Start launches the ticker goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("maintenance: already started")
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.RunOnce(ctx)
			}
		}
	}()
	logger.Info(ctx, "maintenance loop started",
		zap.Duration("interval", l.cfg.Interval),
		zap.Duration("stale_after", l.cfg.StaleAfter))
	return nil
}

// Stop halts the ticker and waits for an in-flight pass to finish.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil
	}
	l.cancel()
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RunOnce performs one maintenance pass. Each step is independent; a failing
// step is logged and the pass continues.
func (l *Loop) RunOnce(ctx context.Context) {
	now := l.now()

	released, failed, err := l.queue.ReleaseStale(ctx, now.Add(-l.cfg.StaleAfter))
	if err != nil {
		logger.Error(ctx, "stale lease release failed", zap.Error(err))
	} else {
		if len(released) > 0 {
			logger.Warn(ctx, "released stale leases", zap.Int("count", len(released)))
		}
		for _, item := range released {
			l.returnToPending(ctx, item)
		}
		for _, item := range failed {
			l.finalizeExhausted(ctx, item)
		}
	}

	if purged, err := l.queue.PurgeCompleted(ctx, now.Add(-l.cfg.CompletedRetention)); err != nil {
		logger.Error(ctx, "queue purge failed", zap.Error(err))
	} else if purged > 0 {
		logger.Info(ctx, "purged completed queue items", zap.Int64("count", purged))
	}

	if l.executions != nil {
		if purged, err := l.executions.PurgeOlderThan(ctx, now.Add(-l.cfg.ExecutionRetention)); err != nil {
			logger.Error(ctx, "execution purge failed", zap.Error(err))
		} else if purged > 0 {
			logger.Info(ctx, "purged old executions", zap.Int64("count", purged))
		}
	}

	stats, err := l.queue.Stats(ctx)
	if err != nil {
		logger.Error(ctx, "queue stats failed", zap.Error(err))
		return
	}
	logger.Info(ctx, "queue health",
		zap.Int64("pending", stats.Pending),
		zap.Int64("running", stats.Running),
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("active_workers", stats.ActiveWorkers),
		zap.Duration("oldest_pending_age", stats.OldestPendingAge))
}

// returnToPending mirrors a released queue item onto its submission. Released
// items go back to PENDING, so the submission does too.
func (l *Loop) returnToPending(ctx context.Context, item model.QueueItem) {
	if err := l.submissions.ReturnToPending(ctx, item.SubmissionID); err != nil &&
		!errors.Is(err, repository.ErrSubmissionNotFound) {
		logger.Error(ctx, "failed to return submission to pending",
			zap.String("submission_id", item.SubmissionID), zap.Error(err))
	}
}

func (l *Loop) finalizeExhausted(ctx context.Context, item model.QueueItem) {
	message := "retries exhausted after stale lease"
	if err := l.submissions.FinalizeFailed(ctx, item.SubmissionID, message); err != nil &&
		!errors.Is(err, repository.ErrSubmissionNotFound) {
		logger.Error(ctx, "failed to finalize exhausted submission",
			zap.String("submission_id", item.SubmissionID), zap.Error(err))
		return
	}
	_ = l.events.Publish(ctx, model.NewEvent(model.EventJudgeError, item.SubmissionID,
		model.JudgeErrorPayload{
			SubmissionID: item.SubmissionID,
			ErrorKind:    "retries_exhausted",
			Message:      message,
		}))
}
