package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"gavel/internal/judge/catalog"
	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/runner"
	"gavel/internal/judge/verdict"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/contextkey"
	"gavel/pkg/utils/logger"
)

// JudgeService grades one claimed queue item end to end: state transitions,
// case execution with short-circuit, aggregation, finalization and events.
type JudgeService struct {
	submissions repository.SubmissionRepository
	queue       repository.QueueRepository
	catalog     catalog.Catalog
	runner      *runner.CaseRunner
	events      repository.EventPublisher
}

// JudgeServiceConfig wires a JudgeService.
type JudgeServiceConfig struct {
	Submissions repository.SubmissionRepository
	Queue       repository.QueueRepository
	Catalog     catalog.Catalog
	Runner      *runner.CaseRunner
	Events      repository.EventPublisher
}

// NewJudgeService creates a judge service, validating required dependencies.
func NewJudgeService(cfg JudgeServiceConfig) (*JudgeService, error) {
	if cfg.Submissions == nil {
		return nil, errors.New("judge service: submission repository is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("judge service: queue repository is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("judge service: catalog is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("judge service: case runner is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("judge service: event publisher is required")
	}
	return &JudgeService{
		submissions: cfg.Submissions,
		queue:       cfg.Queue,
		catalog:     cfg.Catalog,
		runner:      cfg.Runner,
		events:      cfg.Events,
	}, nil
}

// Process grades the claimed item and settles both the queue item and the
// submission. The caller must hold the item's lease as workerID.
//
// Error handling splits three ways:
//   - permanent errors (missing problem, empty manifest) fail the item and
//     the submission immediately;
//   - transient errors release the worker's lease so the item retries, or
//     fail the submission once retries are exhausted;
//   - context cancellation returns without settling, leaving the lease for
//     shutdown or maintenance release.
func (s *JudgeService) Process(ctx context.Context, item *model.QueueItem, workerID string) error {
	ctx = contextkey.WithWorkerID(ctx, workerID)
	ctx = contextkey.WithSubmissionID(ctx, item.SubmissionID)

	submission, err := s.submissions.GetByID(ctx, item.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			// Orphaned queue item; nothing to grade.
			return s.queue.Fail(ctx, item.QueueID, workerID, "submission missing")
		}
		return s.retryOrExhaust(ctx, item, workerID, "store", err)
	}

	if submission.Status.IsTerminal() {
		// Already judged or cancelled.
		return s.queue.Complete(ctx, item.QueueID, workerID)
	}
	if err := s.submissions.MarkRunning(ctx, item.SubmissionID); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			// Reached a terminal state since the read above.
			return s.queue.Complete(ctx, item.QueueID, workerID)
		}
		return s.retryOrExhaust(ctx, item, workerID, "store", err)
	}

	_ = s.events.Publish(ctx, model.NewEvent(model.EventJudgeStarted, item.SubmissionID,
		model.JudgeStartedPayload{SubmissionID: item.SubmissionID, WorkerID: workerID}))

	manifest, err := s.catalog.GetCases(ctx, submission.ProblemID)
	if err != nil {
		if errors.Is(err, catalog.ErrProblemNotFound) || errors.Is(err, catalog.ErrManifestEmpty) {
			return s.failPermanently(ctx, item, workerID, "catalog", err)
		}
		return s.retryOrExhaust(ctx, item, workerID, "catalog", err)
	}

	acc := verdict.NewAccumulator()
	var results []model.CaseResult
	for _, c := range manifest {
		if acc.ShortCircuit() {
			break
		}
		outcome, err := s.runner.Run(ctx, submission.SourceCode, submission.Language, c)
		if err != nil {
			// Context cancelled; leave the lease for release.
			return err
		}
		acc.Add(outcome)
		results = append(results, outcome.CaseResult())
	}
	summary := acc.Summary()

	if err := s.submissions.FinalizeJudged(ctx, item.SubmissionID, results, summary); err != nil {
		return s.retryOrExhaust(ctx, item, workerID, "store", err)
	}
	if err := s.queue.Complete(ctx, item.QueueID, workerID); err != nil {
		if errors.Is(err, repository.ErrNotOwner) {
			// Maintenance reclaimed the lease after finalization; the
			// submission result stands.
			logger.Warn(ctx, "lease lost after finalization", zap.String("queue_id", item.QueueID))
			return nil
		}
		return err
	}

	_ = s.events.Publish(ctx, model.NewEvent(model.EventJudgeCompleted, item.SubmissionID,
		model.JudgeCompletedPayload{
			SubmissionID:    item.SubmissionID,
			Result:          summary.Verdict,
			TotalPoints:     summary.TotalPoints,
			MaxPoints:       submission.MaxPoints,
			ExecutionTimeMS: summary.ExecutionTimeMS,
			MemoryUsageKB:   summary.MemoryUsageKB,
		}))

	logger.Info(ctx, "submission judged",
		zap.String("verdict", string(summary.Verdict)),
		zap.Int("total_points", summary.TotalPoints),
		zap.Int("cases", acc.Count()))
	return nil
}

// failPermanently settles both the item and the submission as failed and
// publishes judge.error. Used when a retry cannot succeed.
func (s *JudgeService) failPermanently(ctx context.Context, item *model.QueueItem, workerID, kind string, cause error) error {
	logger.Error(ctx, "judging failed permanently",
		zap.String("error_kind", kind), zap.Error(cause))

	if err := s.queue.Fail(ctx, item.QueueID, workerID, cause.Error()); err != nil {
		return err
	}
	if err := s.submissions.FinalizeFailed(ctx, item.SubmissionID, cause.Error()); err != nil &&
		!errors.Is(err, repository.ErrSubmissionNotFound) {
		return err
	}
	_ = s.events.Publish(ctx, model.NewEvent(model.EventJudgeError, item.SubmissionID,
		model.JudgeErrorPayload{
			SubmissionID: item.SubmissionID,
			ErrorKind:    kind,
			Message:      cause.Error(),
		}))
	return nil
}

// retryOrExhaust releases this worker's lease so the item can retry. The
// worker holds at most one lease, so the release affects only this item.
// Items out of retries fail the submission and publish judge.error.
func (s *JudgeService) retryOrExhaust(ctx context.Context, item *model.QueueItem, workerID, kind string, cause error) error {
	logger.Warn(ctx, "judging failed, releasing for retry",
		zap.String("error_kind", kind),
		zap.Int("retry_count", item.RetryCount),
		zap.Error(cause))

	released, failed, err := s.queue.ReleaseWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if len(released) > 0 {
		for _, r := range released {
			if perr := s.submissions.ReturnToPending(ctx, r.SubmissionID); perr != nil &&
				!errors.Is(perr, repository.ErrSubmissionNotFound) {
				logger.Warn(ctx, "failed to return submission to pending", zap.Error(perr))
			}
		}
		return nil
	}
	for _, exhausted := range failed {
		if ferr := s.submissions.FinalizeFailed(ctx, exhausted.SubmissionID, "retries exhausted: "+cause.Error()); ferr != nil &&
			!errors.Is(ferr, repository.ErrSubmissionNotFound) {
			logger.Error(ctx, "failed to finalize exhausted submission", zap.Error(ferr))
		}
		_ = s.events.Publish(ctx, model.NewEvent(model.EventJudgeError, exhausted.SubmissionID,
			model.JudgeErrorPayload{
				SubmissionID: exhausted.SubmissionID,
				ErrorKind:    "retries_exhausted",
				Message:      cause.Error(),
			}))
	}
	if appErr.IsTransient(cause) {
		return cause
	}
	return nil
}
