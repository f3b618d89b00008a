package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/judge/catalog"
	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/contextkey"
	"gavel/pkg/utils/logger"
)

const (
	idempotencyKeyPrefix = "idempotency:submit:"
	idempotencyTTL       = 24 * time.Hour
)

// SubmitService owns the submission intake path: validation, dedup, priority
// assignment and the atomic create-and-enqueue transaction.
type SubmitService struct {
	tx          repository.TxRunner
	submissions repository.SubmissionRepository
	queue       repository.QueueRepository
	catalog     catalog.Catalog
	events      repository.EventPublisher

	// Optional collaborators. Nil disables the feature.
	archive *repository.SourceArchive
	limiter *SubmitRateLimiter
	cache   cache.Cache
}

// SubmitServiceConfig wires a SubmitService.
type SubmitServiceConfig struct {
	Tx          repository.TxRunner
	Submissions repository.SubmissionRepository
	Queue       repository.QueueRepository
	Catalog     catalog.Catalog
	Events      repository.EventPublisher
	Archive     *repository.SourceArchive
	Limiter     *SubmitRateLimiter
	Cache       cache.Cache
}

// NewSubmitService creates a submit service, validating required dependencies.
func NewSubmitService(cfg SubmitServiceConfig) (*SubmitService, error) {
	if cfg.Tx == nil {
		return nil, errors.New("submit service: tx runner is required")
	}
	if cfg.Submissions == nil {
		return nil, errors.New("submit service: submission repository is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("submit service: queue repository is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("submit service: catalog is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("submit service: event publisher is required")
	}
	return &SubmitService{
		tx:          cfg.Tx,
		submissions: cfg.Submissions,
		queue:       cfg.Queue,
		catalog:     cfg.Catalog,
		events:      cfg.Events,
		archive:     cfg.Archive,
		limiter:     cfg.Limiter,
		cache:       cfg.Cache,
	}, nil
}

// SubmitRequest is the validated-at-entry submission input.
type SubmitRequest struct {
	ProblemID  string
	UserID     string
	UserRole   string
	Language   string
	SourceCode string

	// IdempotencyKey deduplicates client retries. Optional.
	IdempotencyKey string

	Metadata map[string]string
}

// Submit validates the request, creates the submission and its queue item in
// one transaction, and publishes submission.created.
func (s *SubmitService) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	if req.UserID == "" || req.ProblemID == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("userID and problemID are required")
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, appErr.New(appErr.SourceEmpty)
	}
	if len(req.SourceCode) > model.MaxSourceBytes {
		return nil, appErr.New(appErr.SourceTooLarge)
	}
	language, ok := model.ParseLanguage(req.Language)
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", req.Language)
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.lookupIdempotent(ctx, req.UserID, req.IdempotencyKey); err == nil && existing != nil {
			return existing, nil
		}
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, req.UserID)
		if err != nil {
			logger.Warn(ctx, "rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			return nil, appErr.New(appErr.SubmitTooFrequently)
		}
	}

	info, err := s.catalog.GetProblem(ctx, req.ProblemID)
	if err != nil {
		if errors.Is(err, catalog.ErrProblemNotFound) {
			return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", req.ProblemID)
		}
		return nil, appErr.Wrap(err, appErr.CatalogUnhealthy)
	}
	if !info.Active {
		return nil, appErr.Newf(appErr.ProblemInactive, "problem %s does not accept submissions", req.ProblemID)
	}
	manifest, err := s.catalog.GetCases(ctx, req.ProblemID)
	if err != nil {
		if errors.Is(err, catalog.ErrManifestEmpty) {
			return nil, appErr.Newf(appErr.ManifestEmpty, "problem %s has no grader cases", req.ProblemID)
		}
		return nil, appErr.Wrap(err, appErr.CatalogUnhealthy)
	}

	submission := &model.Submission{
		SubmissionID: uuid.NewString(),
		ProblemID:    req.ProblemID,
		UserID:       req.UserID,
		Language:     language,
		SourceCode:   req.SourceCode,
		Metadata:     req.Metadata,
		MaxPoints:    manifest.MaxPoints(),
	}
	ctx = contextkey.WithSubmissionID(ctx, submission.SubmissionID)

	if s.archive != nil {
		key, hash, err := s.archive.Put(ctx, req.SourceCode)
		if err != nil {
			// The database copy is authoritative; archiving is recoverable.
			logger.Warn(ctx, "source archive write failed", zap.Error(err))
		} else {
			submission.SourceKey = key
			submission.SourceHash = hash
		}
	}

	item := &model.QueueItem{
		QueueID:      uuid.NewString(),
		SubmissionID: submission.SubmissionID,
		Priority:     ComputePriority(req.UserRole, info.Difficulty, false),
		MaxRetries:   model.DefaultMaxRetries,
	}

	err = s.tx.Transaction(ctx, func(tx db.Transaction) error {
		if err := s.submissions.Create(ctx, tx, submission); err != nil {
			return err
		}
		return s.queue.Enqueue(ctx, tx, item)
	})
	if err != nil {
		if errors.Is(err, repository.ErrLiveQueueItemExists) {
			return nil, appErr.Wrap(err, appErr.QueueConflict)
		}
		return nil, appErr.Wrap(err, appErr.SubmissionCreateFailed)
	}

	if req.IdempotencyKey != "" {
		s.recordIdempotent(ctx, req.UserID, req.IdempotencyKey, submission.SubmissionID)
	}

	_ = s.events.Publish(ctx, model.NewEvent(model.EventSubmissionCreated, submission.SubmissionID,
		model.SubmissionCreatedPayload{
			SubmissionID: submission.SubmissionID,
			UserID:       submission.UserID,
			ProblemID:    submission.ProblemID,
			Language:     submission.Language,
			Rejudge:      false,
		}))

	logger.Info(ctx, "submission created",
		zap.String("problem_id", submission.ProblemID),
		zap.String("user_id", submission.UserID),
		zap.Int("priority", item.Priority))

	created, err := s.submissions.GetByID(ctx, submission.SubmissionID)
	if err != nil {
		return submission, nil
	}
	return created, nil
}

// Rejudge returns a terminal submission to the queue at elevated priority.
// Non-terminal submissions conflict: the live run must finish first.
func (s *SubmitService) Rejudge(ctx context.Context, submissionID, userRole string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("submissionID is required")
	}
	ctx = contextkey.WithSubmissionID(ctx, submissionID)

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", submissionID)
		}
		return nil, err
	}
	if !submission.Status.IsTerminal() {
		return nil, appErr.Newf(appErr.RejudgeConflict,
			"submission %s is %s; wait for it to finish", submissionID, submission.Status)
	}

	difficulty := ""
	if info, err := s.catalog.GetProblem(ctx, submission.ProblemID); err == nil {
		difficulty = info.Difficulty
	}

	item := &model.QueueItem{
		QueueID:      uuid.NewString(),
		SubmissionID: submissionID,
		Priority:     ComputePriority(userRole, difficulty, true),
		MaxRetries:   model.DefaultMaxRetries,
		Metadata:     map[string]string{"rejudge": "true"},
	}

	err = s.tx.Transaction(ctx, func(tx db.Transaction) error {
		if err := s.submissions.ResetForRejudge(ctx, tx, submissionID); err != nil {
			return err
		}
		return s.queue.Enqueue(ctx, tx, item)
	})
	if err != nil {
		if errors.Is(err, repository.ErrLiveQueueItemExists) {
			return nil, appErr.Wrap(err, appErr.RejudgeConflict)
		}
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			// Lost the race with a concurrent rejudge.
			return nil, appErr.Wrap(err, appErr.RejudgeConflict)
		}
		return nil, err
	}

	_ = s.events.Publish(ctx, model.NewEvent(model.EventSubmissionCreated, submissionID,
		model.SubmissionCreatedPayload{
			SubmissionID: submissionID,
			UserID:       submission.UserID,
			ProblemID:    submission.ProblemID,
			Language:     submission.Language,
			Rejudge:      true,
		}))

	logger.Info(ctx, "rejudge enqueued", zap.Int("priority", item.Priority))
	return s.submissions.GetByID(ctx, submissionID)
}

// GetSubmission loads one submission with its case results.
func (s *SubmitService) GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", submissionID)
		}
		return nil, err
	}
	return submission, nil
}

// ListSubmissions returns a user's recent submissions.
func (s *SubmitService) ListSubmissions(ctx context.Context, userID string, limit, offset int) ([]*model.Submission, error) {
	if userID == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("userID is required")
	}
	return s.submissions.ListByUser(ctx, userID, limit, offset)
}

// QueueStats returns the queue health snapshot.
func (s *SubmitService) QueueStats(ctx context.Context) (repository.QueueStats, error) {
	return s.queue.Stats(ctx)
}

func (s *SubmitService) lookupIdempotent(ctx context.Context, userID, key string) (*model.Submission, error) {
	if s.cache == nil {
		return nil, nil
	}
	submissionID, err := s.cache.Get(ctx, idempotencyKeyPrefix+userID+":"+key)
	if err != nil || submissionID == "" {
		return nil, err
	}
	return s.submissions.GetByID(ctx, submissionID)
}

func (s *SubmitService) recordIdempotent(ctx context.Context, userID, key, submissionID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.SetNX(ctx, idempotencyKeyPrefix+userID+":"+key, submissionID, idempotencyTTL); err != nil {
		logger.Warn(ctx, "idempotency record failed", zap.Error(err))
	}
}
