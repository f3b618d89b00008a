// Package repository persists submissions, queue items, ad-hoc executions and
// the event log. Store operations are the engine's synchronization
// primitives: the queue repository's claim/release/complete calls are atomic.
package repository

import (
	"context"
	"errors"
	"time"

	"gavel/internal/common/db"
	"gavel/internal/judge/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrQueueItemNotFound  = errors.New("queue item not found")
	ErrExecutionNotFound  = errors.New("execution not found")

	// ErrLiveQueueItemExists is returned when enqueueing would violate the
	// one-live-item-per-submission invariant.
	ErrLiveQueueItemExists = errors.New("live queue item already exists for submission")

	// ErrNotOwner is returned when a worker-guarded operation is attempted
	// by a worker that does not hold the lease.
	ErrNotOwner = errors.New("queue item is not owned by this worker")
)

// TxRunner runs a function inside a store transaction. db.Database satisfies
// it; in-memory stores accept a nil transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx db.Transaction) error) error
}

// SubmissionRepository persists submissions and their case results.
type SubmissionRepository interface {
	// Create inserts a new submission in PENDING state.
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error

	// GetByID loads a submission including its case results.
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)

	// ListByUser returns recent submissions for a user, newest first,
	// without case results.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Submission, error)

	// MarkRunning transitions PENDING -> RUNNING.
	MarkRunning(ctx context.Context, submissionID string) error

	// ReturnToPending transitions RUNNING -> PENDING when a queue item is
	// released for retry, so the submission mirrors its item. Already
	// PENDING is a no-op.
	ReturnToPending(ctx context.Context, submissionID string) error

	// FinalizeJudged writes case results and the aggregated verdict, and
	// transitions the submission to COMPLETED with judged_at set.
	FinalizeJudged(ctx context.Context, submissionID string, results []model.CaseResult, summary model.JudgeSummary) error

	// FinalizeFailed transitions the submission to FAILED with verdict
	// INTERNAL_ERROR and judged_at set.
	FinalizeFailed(ctx context.Context, submissionID, message string) error

	// ResetForRejudge returns a terminal submission to PENDING, clearing
	// accumulators, verdict, judged_at and prior case results.
	ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID string) error
}

// QueueStats is the maintenance health snapshot of the queue.
type QueueStats struct {
	Pending       int64
	Running       int64
	Completed     int64
	Failed        int64
	ActiveWorkers int64

	// OldestPendingAge is zero when no PENDING item exists.
	OldestPendingAge time.Duration
}

// QueueRepository persists queue items and implements the atomic lease
// operations the dispatcher depends on.
type QueueRepository interface {
	// Enqueue inserts a PENDING item. Fails with ErrLiveQueueItemExists if
	// the submission already has a live item.
	Enqueue(ctx context.Context, tx db.Transaction, item *model.QueueItem) error

	// GetByID loads one queue item.
	GetByID(ctx context.Context, queueID string) (*model.QueueItem, error)

	// GetLiveBySubmission returns the live item for a submission, or
	// ErrQueueItemNotFound.
	GetLiveBySubmission(ctx context.Context, submissionID string) (*model.QueueItem, error)

	// ClaimNext atomically transitions the highest-priority PENDING item
	// (ties broken by oldest created_at) to RUNNING owned by workerID.
	// Returns (nil, nil) when the queue is empty. Concurrent callers never
	// observe the same item.
	ClaimNext(ctx context.Context, workerID string) (*model.QueueItem, error)

	// Complete transitions a RUNNING item to COMPLETED. Applies only when
	// workerID still owns the lease.
	Complete(ctx context.Context, queueID, workerID string) error

	// Fail transitions a RUNNING item to FAILED. Applies only when workerID
	// still owns the lease.
	Fail(ctx context.Context, queueID, workerID, message string) error

	// ReleaseWorker returns all RUNNING items owned by workerID to PENDING,
	// bumping retry counters. Items whose retries are exhausted transition
	// to FAILED and are returned in failed.
	ReleaseWorker(ctx context.Context, workerID string) (released, failed []model.QueueItem, err error)

	// ReleaseStale releases RUNNING items whose started_at is older than
	// the threshold, bumping retry counters. Items whose retries are
	// exhausted transition to FAILED and are returned in failed.
	ReleaseStale(ctx context.Context, olderThan time.Time) (released, failed []model.QueueItem, err error)

	// PurgeCompleted deletes COMPLETED items older than the cutoff and
	// returns how many were removed.
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int64, error)

	// Stats returns the health snapshot.
	Stats(ctx context.Context) (QueueStats, error)
}

// ExecutionRepository persists ad-hoc code executions.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *model.CodeExecution) error
	GetByID(ctx context.Context, executionID string) (*model.CodeExecution, error)
	Finish(ctx context.Context, executionID string, status model.ExecutionStatus, result model.ExecutionResult, errorMessage string) error
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventLogRepository appends published events to the durable event log.
type EventLogRepository interface {
	Append(ctx context.Context, event model.Event) error
}

// EventPublisher emits domain events on a best-effort, at-least-once basis.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event) error
}
