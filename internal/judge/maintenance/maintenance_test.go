package maintenance

import (
	"context"
	"testing"
	"time"

	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
)

type fixture struct {
	loop        *Loop
	submissions *repository.MemorySubmissionRepository
	queue       *repository.MemoryQueueRepository
	executions  *repository.MemoryExecutionRepository
	events      *repository.CollectingEventPublisher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		submissions: repository.NewMemorySubmissionRepository(),
		queue:       repository.NewMemoryQueueRepository(),
		executions:  repository.NewMemoryExecutionRepository(),
		events:      repository.NewCollectingEventPublisher(),
	}
	loop, err := New(cfg, f.queue, f.submissions, f.executions, f.events)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.loop = loop
	return f
}

func (f *fixture) seedRunning(t *testing.T, submissionID string, maxRetries int) {
	t.Helper()
	ctx := context.Background()
	err := f.submissions.Create(ctx, nil, &model.Submission{
		SubmissionID: submissionID,
		ProblemID:    "p1",
		UserID:       "u1",
		Language:     model.LanguagePython,
		SourceCode:   "src",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = f.queue.Enqueue(ctx, nil, &model.QueueItem{
		QueueID:      "q-" + submissionID,
		SubmissionID: submissionID,
		Priority:     1,
		MaxRetries:   maxRetries,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := f.queue.ClaimNext(ctx, "worker-dead"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := f.submissions.MarkRunning(ctx, submissionID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
}

func TestRunOnceReleasesStaleLease(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{StaleAfter: 30 * time.Minute})
	f.seedRunning(t, "s1", 3)

	// Pretend the lease is an hour old.
	f.loop.now = func() time.Time { return time.Now().Add(time.Hour) }
	f.loop.RunOnce(context.Background())

	item, err := f.queue.GetByID(context.Background(), "q-s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.Status != model.QueuePending {
		t.Fatalf("status = %s, want PENDING", item.Status)
	}
	if item.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", item.RetryCount)
	}

	// The released submission goes back to PENDING with its item.
	submission, err := f.submissions.GetByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if submission.Status != model.SubmissionPending {
		t.Fatalf("submission status = %s, want PENDING", submission.Status)
	}
}

func TestRunOnceLeavesFreshLeaseAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{StaleAfter: 30 * time.Minute})
	f.seedRunning(t, "s1", 3)

	f.loop.RunOnce(context.Background())

	item, err := f.queue.GetByID(context.Background(), "q-s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.Status != model.QueueRunning {
		t.Fatalf("status = %s, want RUNNING", item.Status)
	}
}

func TestRunOnceFinalizesExhaustedSubmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{StaleAfter: 30 * time.Minute})
	f.seedRunning(t, "s1", 1)
	ctx := context.Background()

	f.loop.now = func() time.Time { return time.Now().Add(time.Hour) }

	// First pass releases (retry 1 of 1); re-claim to go stale again.
	f.loop.RunOnce(ctx)
	if _, err := f.queue.ClaimNext(ctx, "worker-dead"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	f.loop.RunOnce(ctx)

	item, err := f.queue.GetByID(ctx, "q-s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.Status != model.QueueFailed {
		t.Fatalf("queue status = %s, want FAILED", item.Status)
	}

	submission, err := f.submissions.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if submission.Status != model.SubmissionFailed {
		t.Fatalf("submission status = %s, want FAILED", submission.Status)
	}
	if submission.Verdict != model.VerdictInternalError {
		t.Fatalf("verdict = %s, want INTERNAL_ERROR", submission.Verdict)
	}
	if n := len(f.events.EventsOfType(model.EventJudgeError)); n != 1 {
		t.Fatalf("judge.error events = %d, want 1", n)
	}
}

func TestRunOncePurgesOldCompletedItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{StaleAfter: 30 * time.Minute, CompletedRetention: 24 * time.Hour})
	ctx := context.Background()

	err := f.queue.Enqueue(ctx, nil, &model.QueueItem{QueueID: "q1", SubmissionID: "s1", Priority: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	item, err := f.queue.ClaimNext(ctx, "w")
	if err != nil || item == nil {
		t.Fatalf("ClaimNext: item=%v err=%v", item, err)
	}
	if err := f.queue.Complete(ctx, "q1", "w"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Not old enough yet.
	f.loop.RunOnce(ctx)
	if _, err := f.queue.GetByID(ctx, "q1"); err != nil {
		t.Fatalf("item purged too early: %v", err)
	}

	f.loop.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	f.loop.RunOnce(ctx)
	if _, err := f.queue.GetByID(ctx, "q1"); err == nil {
		t.Fatal("expected completed item to be purged")
	}
}

func TestRunOncePurgesOldExecutions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ExecutionRetention: time.Hour})
	ctx := context.Background()

	execution := &model.CodeExecution{
		ExecutionID: "e1", UserID: "u1",
		Language: model.LanguagePython, SourceCode: "src",
		TimeLimitMS: 1000, MemoryLimitMB: 64,
	}
	if err := f.executions.Create(ctx, execution); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.executions.Finish(ctx, "e1", model.ExecutionCompleted, model.ExecutionResult{}, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f.loop.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	f.loop.RunOnce(ctx)
	if _, err := f.executions.GetByID(ctx, "e1"); err == nil {
		t.Fatal("expected execution to be purged")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Interval: 10 * time.Millisecond})
	ctx := context.Background()
	if err := f.loop.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.loop.Start(ctx); err == nil {
		t.Fatal("second Start must fail")
	}
	time.Sleep(30 * time.Millisecond)
	if err := f.loop.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
