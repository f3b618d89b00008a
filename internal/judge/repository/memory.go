package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"gavel/internal/common/db"
	"gavel/internal/judge/model"
)

// In-memory repository implementations with the same semantics as the MySQL
// ones. Used by tests and by single-node development mode; every operation is
// safe for concurrent use.

// NopTxRunner satisfies TxRunner without a database: fn runs with a nil
// transaction, which the in-memory repositories accept.
type NopTxRunner struct{}

func (NopTxRunner) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(nil)
}

// MemorySubmissionRepository is an in-memory SubmissionRepository.
type MemorySubmissionRepository struct {
	mu          sync.Mutex
	submissions map[string]*model.Submission
}

func NewMemorySubmissionRepository() *MemorySubmissionRepository {
	return &MemorySubmissionRepository{submissions: make(map[string]*model.Submission)}
}

func (r *MemorySubmissionRepository) Create(ctx context.Context, _ db.Transaction, submission *model.Submission) error {
	if submission == nil || submission.SubmissionID == "" {
		return errInvalid("submissionID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *submission
	clone.Status = model.SubmissionPending
	clone.Verdict = model.VerdictPending
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	r.submissions[clone.SubmissionID] = &clone
	return nil
}

func (r *MemorySubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	clone := *submission
	clone.CaseResults = append([]model.CaseResult(nil), submission.CaseResults...)
	return &clone, nil
}

func (r *MemorySubmissionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []*model.Submission
	for _, submission := range r.submissions {
		if submission.UserID == userID {
			clone := *submission
			matches = append(matches, &clone)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *MemorySubmissionRepository) MarkRunning(ctx context.Context, submissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok {
		return ErrSubmissionNotFound
	}
	switch submission.Status {
	case model.SubmissionRunning:
		return nil
	case model.SubmissionPending:
	default:
		return ErrSubmissionNotFound
	}
	submission.Status = model.SubmissionRunning
	submission.UpdatedAt = time.Now()
	return nil
}

func (r *MemorySubmissionRepository) ReturnToPending(ctx context.Context, submissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok {
		return ErrSubmissionNotFound
	}
	switch submission.Status {
	case model.SubmissionPending:
		return nil
	case model.SubmissionRunning:
	default:
		return ErrSubmissionNotFound
	}
	submission.Status = model.SubmissionPending
	submission.UpdatedAt = time.Now()
	return nil
}

func (r *MemorySubmissionRepository) FinalizeJudged(ctx context.Context, submissionID string, results []model.CaseResult, summary model.JudgeSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok || submission.Status != model.SubmissionRunning {
		return ErrSubmissionNotFound
	}
	now := time.Now()
	submission.Status = model.SubmissionCompleted
	submission.Verdict = summary.Verdict
	submission.TotalPoints = summary.TotalPoints
	submission.ExecutionTimeMS = summary.ExecutionTimeMS
	submission.MemoryUsageKB = summary.MemoryUsageKB
	submission.CompileError = summary.CompileError
	submission.CaseResults = append([]model.CaseResult(nil), results...)
	submission.JudgedAt = &now
	submission.UpdatedAt = now
	return nil
}

func (r *MemorySubmissionRepository) FinalizeFailed(ctx context.Context, submissionID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok || submission.Status.IsTerminal() {
		return ErrSubmissionNotFound
	}
	now := time.Now()
	submission.Status = model.SubmissionFailed
	submission.Verdict = model.VerdictInternalError
	submission.JudgedAt = &now
	submission.UpdatedAt = now
	return nil
}

func (r *MemorySubmissionRepository) ResetForRejudge(ctx context.Context, _ db.Transaction, submissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok || !submission.Status.IsTerminal() {
		return ErrSubmissionNotFound
	}
	submission.Status = model.SubmissionPending
	submission.Verdict = model.VerdictPending
	submission.TotalPoints = 0
	submission.ExecutionTimeMS = 0
	submission.MemoryUsageKB = 0
	submission.CompileError = ""
	submission.CaseResults = nil
	submission.JudgedAt = nil
	submission.UpdatedAt = time.Now()
	return nil
}

// MemoryQueueRepository is an in-memory QueueRepository. Claim ordering is
// priority descending, then enqueue order.
type MemoryQueueRepository struct {
	mu    sync.Mutex
	items map[string]*model.QueueItem
	seq   map[string]int64
	next  int64
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{
		items: make(map[string]*model.QueueItem),
		seq:   make(map[string]int64),
	}
}

func (r *MemoryQueueRepository) Enqueue(ctx context.Context, _ db.Transaction, item *model.QueueItem) error {
	if item == nil || item.QueueID == "" || item.SubmissionID == "" {
		return errInvalid("queueID and submissionID are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.SubmissionID == item.SubmissionID && existing.Status.IsLive() {
			return ErrLiveQueueItemExists
		}
	}
	clone := *item
	clone.Priority = model.ClampPriority(clone.Priority)
	if clone.MaxRetries <= 0 {
		clone.MaxRetries = model.DefaultMaxRetries
	}
	clone.Status = model.QueuePending
	clone.WorkerID = ""
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	r.items[clone.QueueID] = &clone
	r.next++
	r.seq[clone.QueueID] = r.next
	return nil
}

func (r *MemoryQueueRepository) GetByID(ctx context.Context, queueID string) (*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[queueID]
	if !ok {
		return nil, ErrQueueItemNotFound
	}
	clone := *item
	return &clone, nil
}

func (r *MemoryQueueRepository) GetLiveBySubmission(ctx context.Context, submissionID string) (*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.SubmissionID == submissionID && item.Status.IsLive() {
			clone := *item
			return &clone, nil
		}
	}
	return nil, ErrQueueItemNotFound
}

func (r *MemoryQueueRepository) ClaimNext(ctx context.Context, workerID string) (*model.QueueItem, error) {
	if workerID == "" {
		return nil, errInvalid("workerID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.QueueItem
	for _, item := range r.items {
		if item.Status != model.QueuePending {
			continue
		}
		if best == nil ||
			item.Priority > best.Priority ||
			(item.Priority == best.Priority && r.seq[item.QueueID] < r.seq[best.QueueID]) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}
	now := time.Now()
	best.Status = model.QueueRunning
	best.WorkerID = workerID
	best.AssignedAt = &now
	best.StartedAt = &now
	best.UpdatedAt = now
	clone := *best
	return &clone, nil
}

func (r *MemoryQueueRepository) Complete(ctx context.Context, queueID, workerID string) error {
	return r.settle(queueID, workerID, model.QueueCompleted, "")
}

func (r *MemoryQueueRepository) Fail(ctx context.Context, queueID, workerID, message string) error {
	return r.settle(queueID, workerID, model.QueueFailed, message)
}

func (r *MemoryQueueRepository) settle(queueID, workerID string, status model.QueueStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[queueID]
	if !ok {
		return ErrQueueItemNotFound
	}
	if item.Status != model.QueueRunning || item.WorkerID != workerID {
		return ErrNotOwner
	}
	now := time.Now()
	item.Status = status
	item.ErrorMessage = message
	item.CompletedAt = &now
	item.UpdatedAt = now
	return nil
}

func (r *MemoryQueueRepository) ReleaseWorker(ctx context.Context, workerID string) (released, failed []model.QueueItem, err error) {
	if workerID == "" {
		return nil, nil, errInvalid("workerID is required")
	}
	return r.release(func(item *model.QueueItem) bool {
		return item.Status == model.QueueRunning && item.WorkerID == workerID
	})
}

func (r *MemoryQueueRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (released, failed []model.QueueItem, err error) {
	return r.release(func(item *model.QueueItem) bool {
		return item.Status == model.QueueRunning &&
			item.StartedAt != nil && item.StartedAt.Before(olderThan)
	})
}

func (r *MemoryQueueRepository) release(match func(*model.QueueItem) bool) (released, failed []model.QueueItem, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, item := range r.items {
		if !match(item) {
			continue
		}
		if item.RetryCount < item.MaxRetries {
			item.Status = model.QueuePending
			item.RetryCount++
			item.WorkerID = ""
			item.AssignedAt = nil
			item.StartedAt = nil
			item.UpdatedAt = now
			released = append(released, *item)
			continue
		}
		item.Status = model.QueueFailed
		item.WorkerID = ""
		item.ErrorMessage = "retries exhausted"
		item.CompletedAt = &now
		item.UpdatedAt = now
		failed = append(failed, *item)
	}
	return released, failed, nil
}

func (r *MemoryQueueRepository) PurgeCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for queueID, item := range r.items {
		if item.Status == model.QueueCompleted &&
			item.CompletedAt != nil && item.CompletedAt.Before(olderThan) {
			delete(r.items, queueID)
			delete(r.seq, queueID)
			purged++
		}
	}
	return purged, nil
}

func (r *MemoryQueueRepository) Stats(ctx context.Context) (QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats QueueStats
	workers := make(map[string]struct{})
	var oldest *time.Time
	for _, item := range r.items {
		switch item.Status {
		case model.QueuePending:
			stats.Pending++
			created := item.CreatedAt
			if oldest == nil || created.Before(*oldest) {
				oldest = &created
			}
		case model.QueueRunning:
			stats.Running++
			workers[item.WorkerID] = struct{}{}
		case model.QueueCompleted:
			stats.Completed++
		case model.QueueFailed:
			stats.Failed++
		}
	}
	stats.ActiveWorkers = int64(len(workers))
	if oldest != nil {
		stats.OldestPendingAge = time.Since(*oldest)
	}
	return stats, nil
}

// MemoryExecutionRepository is an in-memory ExecutionRepository.
type MemoryExecutionRepository struct {
	mu         sync.Mutex
	executions map[string]*model.CodeExecution
}

func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{executions: make(map[string]*model.CodeExecution)}
}

func (r *MemoryExecutionRepository) Create(ctx context.Context, execution *model.CodeExecution) error {
	if execution == nil || execution.ExecutionID == "" {
		return errInvalid("executionID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *execution
	clone.Status = model.ExecutionPending
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	r.executions[clone.ExecutionID] = &clone
	return nil
}

func (r *MemoryExecutionRepository) GetByID(ctx context.Context, executionID string) (*model.CodeExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	execution, ok := r.executions[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	clone := *execution
	return &clone, nil
}

func (r *MemoryExecutionRepository) Finish(ctx context.Context, executionID string, status model.ExecutionStatus, result model.ExecutionResult, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	execution, ok := r.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	execution.Status = status
	execution.Result = result
	execution.ErrorMessage = errorMessage
	execution.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryExecutionRepository) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for executionID, execution := range r.executions {
		terminal := execution.Status == model.ExecutionCompleted || execution.Status == model.ExecutionFailed
		if terminal && execution.UpdatedAt.Before(olderThan) {
			delete(r.executions, executionID)
			purged++
		}
	}
	return purged, nil
}

// CollectingEventPublisher records published events. Test helper.
type CollectingEventPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func NewCollectingEventPublisher() *CollectingEventPublisher {
	return &CollectingEventPublisher{}
}

func (p *CollectingEventPublisher) Publish(ctx context.Context, event model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a snapshot of everything published so far.
func (p *CollectingEventPublisher) Events() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events...)
}

// EventsOfType filters the snapshot by event type.
func (p *CollectingEventPublisher) EventsOfType(eventType model.EventType) []model.Event {
	var matches []model.Event
	for _, event := range p.Events() {
		if event.Type == eventType {
			matches = append(matches, event)
		}
	}
	return matches
}
