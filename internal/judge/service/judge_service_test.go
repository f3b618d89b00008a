package service

import (
	"context"
	"errors"
	"testing"

	"gavel/internal/judge/catalog"
	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/runner"
	"gavel/internal/judge/sandbox"
)

// scriptedExecutor returns results keyed by stdin, echoing the expected
// output for inputs it has no script for.
type scriptedExecutor struct {
	results map[string]sandbox.Result
	echo    map[string][]byte
}

func (s *scriptedExecutor) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	if res, ok := s.results[string(req.Stdin)]; ok {
		return res, nil
	}
	return sandbox.Result{
		Stdout:      s.echo[string(req.Stdin)],
		Termination: sandbox.TerminationNormal,
	}, nil
}

type judgeFixture struct {
	svc         *JudgeService
	submissions *repository.MemorySubmissionRepository
	queue       *repository.MemoryQueueRepository
	catalog     *catalog.MemoryCatalog
	events      *repository.CollectingEventPublisher
	exec        *scriptedExecutor
}

func newJudgeFixture(t *testing.T, submissions repository.SubmissionRepository) *judgeFixture {
	t.Helper()
	f := &judgeFixture{
		submissions: repository.NewMemorySubmissionRepository(),
		queue:       repository.NewMemoryQueueRepository(),
		catalog:     catalog.NewMemoryCatalog(),
		events:      repository.NewCollectingEventPublisher(),
		exec: &scriptedExecutor{
			results: make(map[string]sandbox.Result),
			echo:    map[string][]byte{"in1": []byte("out1"), "in2": []byte("out2")},
		},
	}
	f.catalog.AddProblem(
		catalog.ProblemInfo{ProblemID: "p1", Active: true},
		model.CaseManifest{
			{CaseID: "c1", Input: []byte("in1"), ExpectedOutput: []byte("out1"), Points: 10, TimeLimitMS: 1000, MemoryLimitMB: 64},
			{CaseID: "c2", Input: []byte("in2"), ExpectedOutput: []byte("out2"), Points: 20, TimeLimitMS: 1000, MemoryLimitMB: 64},
		},
	)
	if submissions == nil {
		submissions = f.submissions
	}
	svc, err := NewJudgeService(JudgeServiceConfig{
		Submissions: submissions,
		Queue:       f.queue,
		Catalog:     f.catalog,
		Runner:      runner.NewCaseRunner(f.exec),
		Events:      f.events,
	})
	if err != nil {
		t.Fatalf("NewJudgeService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *judgeFixture) seed(t *testing.T, problemID string) (*model.Submission, *model.QueueItem) {
	t.Helper()
	ctx := context.Background()
	submission := &model.Submission{
		SubmissionID: "s1",
		ProblemID:    problemID,
		UserID:       "u1",
		Language:     model.LanguagePython,
		SourceCode:   "src",
		MaxPoints:    30,
	}
	if err := f.submissions.Create(ctx, nil, submission); err != nil {
		t.Fatalf("Create: %v", err)
	}
	item := &model.QueueItem{QueueID: "q1", SubmissionID: "s1", Priority: 1, MaxRetries: 3}
	if err := f.queue.Enqueue(ctx, nil, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := f.queue.ClaimNext(ctx, "worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: item=%v err=%v", claimed, err)
	}
	return submission, claimed
}

func TestProcessAllAccepted(t *testing.T) {
	t.Parallel()
	f := newJudgeFixture(t, nil)
	ctx := context.Background()
	_, item := f.seed(t, "p1")

	if err := f.svc.Process(ctx, item, "worker-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	submission, err := f.submissions.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if submission.Status != model.SubmissionCompleted {
		t.Fatalf("status = %s, want COMPLETED", submission.Status)
	}
	if submission.Verdict != model.VerdictAccepted {
		t.Fatalf("verdict = %s, want ACCEPTED", submission.Verdict)
	}
	if submission.TotalPoints != 30 {
		t.Fatalf("total points = %d, want 30", submission.TotalPoints)
	}
	if len(submission.CaseResults) != 2 {
		t.Fatalf("case results = %d, want 2", len(submission.CaseResults))
	}
	if submission.JudgedAt == nil {
		t.Fatal("judged_at not set")
	}

	queued, err := f.queue.GetByID(ctx, item.QueueID)
	if err != nil {
		t.Fatalf("queue GetByID: %v", err)
	}
	if queued.Status != model.QueueCompleted {
		t.Fatalf("queue status = %s, want COMPLETED", queued.Status)
	}

	if n := len(f.events.EventsOfType(model.EventJudgeStarted)); n != 1 {
		t.Fatalf("judge.started events = %d, want 1", n)
	}
	completed := f.events.EventsOfType(model.EventJudgeCompleted)
	if len(completed) != 1 {
		t.Fatalf("judge.completed events = %d, want 1", len(completed))
	}
	payload := completed[0].Payload.(model.JudgeCompletedPayload)
	if payload.Result != model.VerdictAccepted || payload.TotalPoints != 30 || payload.MaxPoints != 30 {
		t.Fatalf("completed payload = %+v", payload)
	}
}

func TestProcessCompileErrorShortCircuits(t *testing.T) {
	t.Parallel()
	f := newJudgeFixture(t, nil)
	ctx := context.Background()

	f.catalog.AddProblem(
		catalog.ProblemInfo{ProblemID: "p-cpp", Active: true},
		model.CaseManifest{
			{CaseID: "c1", Input: []byte("in1"), ExpectedOutput: []byte("out1"), Points: 10, TimeLimitMS: 1000, MemoryLimitMB: 64},
			{CaseID: "c2", Input: []byte("in2"), ExpectedOutput: []byte("out2"), Points: 20, TimeLimitMS: 1000, MemoryLimitMB: 64},
		},
	)
	f.exec.results["in1"] = sandbox.Result{
		Termination: sandbox.TerminationNormal,
		Compile:     &sandbox.CompileResult{OK: false, Log: "expected ';'"},
	}

	submission := &model.Submission{
		SubmissionID: "s1", ProblemID: "p-cpp", UserID: "u1",
		Language: model.LanguageCPP, SourceCode: "src", MaxPoints: 30,
	}
	if err := f.submissions.Create(ctx, nil, submission); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.queue.Enqueue(ctx, nil, &model.QueueItem{QueueID: "q1", SubmissionID: "s1", Priority: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	item, _ := f.queue.ClaimNext(ctx, "worker-1")

	if err := f.svc.Process(ctx, item, "worker-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := f.submissions.GetByID(ctx, "s1")
	if got.Verdict != model.VerdictCompilationError {
		t.Fatalf("verdict = %s, want COMPILATION_ERROR", got.Verdict)
	}
	if got.CompileError != "expected ';'" {
		t.Fatalf("compile error = %q", got.CompileError)
	}
	if len(got.CaseResults) != 1 {
		t.Fatalf("case results = %d, want 1 (short circuit)", len(got.CaseResults))
	}
	if got.TotalPoints != 0 {
		t.Fatalf("total points = %d, want 0", got.TotalPoints)
	}
}

func TestProcessOrphanItemFails(t *testing.T) {
	t.Parallel()
	f := newJudgeFixture(t, nil)
	ctx := context.Background()

	if err := f.queue.Enqueue(ctx, nil, &model.QueueItem{QueueID: "q1", SubmissionID: "ghost", Priority: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	item, _ := f.queue.ClaimNext(ctx, "worker-1")

	if err := f.svc.Process(ctx, item, "worker-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	queued, _ := f.queue.GetByID(ctx, "q1")
	if queued.Status != model.QueueFailed {
		t.Fatalf("queue status = %s, want FAILED", queued.Status)
	}
}

func TestProcessMissingProblemFailsPermanently(t *testing.T) {
	t.Parallel()
	f := newJudgeFixture(t, nil)
	ctx := context.Background()
	_, item := f.seed(t, "p-gone")

	if err := f.svc.Process(ctx, item, "worker-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	submission, _ := f.submissions.GetByID(ctx, "s1")
	if submission.Status != model.SubmissionFailed {
		t.Fatalf("status = %s, want FAILED", submission.Status)
	}
	if submission.Verdict != model.VerdictInternalError {
		t.Fatalf("verdict = %s, want INTERNAL_ERROR", submission.Verdict)
	}
	queued, _ := f.queue.GetByID(ctx, item.QueueID)
	if queued.Status != model.QueueFailed {
		t.Fatalf("queue status = %s, want FAILED", queued.Status)
	}
	errs := f.events.EventsOfType(model.EventJudgeError)
	if len(errs) != 1 {
		t.Fatalf("judge.error events = %d, want 1", len(errs))
	}
}

// flakyFinalizeRepo fails FinalizeJudged a fixed number of times.
type flakyFinalizeRepo struct {
	*repository.MemorySubmissionRepository
	failures int
}

func (r *flakyFinalizeRepo) FinalizeJudged(ctx context.Context, submissionID string, results []model.CaseResult, summary model.JudgeSummary) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("store hiccup")
	}
	return r.MemorySubmissionRepository.FinalizeJudged(ctx, submissionID, results, summary)
}

func TestProcessTransientStoreErrorReleasesForRetry(t *testing.T) {
	t.Parallel()
	f := newJudgeFixture(t, nil)
	flaky := &flakyFinalizeRepo{MemorySubmissionRepository: f.submissions, failures: 1}
	svc, err := NewJudgeService(JudgeServiceConfig{
		Submissions: flaky,
		Queue:       f.queue,
		Catalog:     f.catalog,
		Runner:      runner.NewCaseRunner(f.exec),
		Events:      f.events,
	})
	if err != nil {
		t.Fatalf("NewJudgeService: %v", err)
	}

	ctx := context.Background()
	_, item := f.seed(t, "p1")

	if err := svc.Process(ctx, item, "worker-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	queued, _ := f.queue.GetByID(ctx, item.QueueID)
	if queued.Status != model.QueuePending {
		t.Fatalf("queue status = %s, want PENDING (released for retry)", queued.Status)
	}
	if queued.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", queued.RetryCount)
	}
	// The released submission mirrors its queue item.
	released, _ := f.submissions.GetByID(ctx, "s1")
	if released.Status != model.SubmissionPending {
		t.Fatalf("submission status = %s, want PENDING after release", released.Status)
	}

	// Second attempt succeeds.
	reclaimed, err := f.queue.ClaimNext(ctx, "worker-2")
	if err != nil || reclaimed == nil {
		t.Fatalf("ClaimNext: item=%v err=%v", reclaimed, err)
	}
	if err := svc.Process(ctx, reclaimed, "worker-2"); err != nil {
		t.Fatalf("Process (retry): %v", err)
	}
	queued, _ = f.queue.GetByID(ctx, item.QueueID)
	if queued.Status != model.QueueCompleted {
		t.Fatalf("queue status after retry = %s, want COMPLETED", queued.Status)
	}
}

func TestProcessRetriesExhaustedFailsSubmission(t *testing.T) {
	t.Parallel()
	f := newJudgeFixture(t, nil)
	flaky := &flakyFinalizeRepo{MemorySubmissionRepository: f.submissions, failures: 100}
	svc, err := NewJudgeService(JudgeServiceConfig{
		Submissions: flaky,
		Queue:       f.queue,
		Catalog:     f.catalog,
		Runner:      runner.NewCaseRunner(f.exec),
		Events:      f.events,
	})
	if err != nil {
		t.Fatalf("NewJudgeService: %v", err)
	}

	ctx := context.Background()
	submission := &model.Submission{
		SubmissionID: "s1", ProblemID: "p1", UserID: "u1",
		Language: model.LanguagePython, SourceCode: "src",
	}
	if err := f.submissions.Create(ctx, nil, submission); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.queue.Enqueue(ctx, nil, &model.QueueItem{QueueID: "q1", SubmissionID: "s1", Priority: 1, MaxRetries: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		item, err := f.queue.ClaimNext(ctx, "worker-1")
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if item == nil {
			break
		}
		if err := svc.Process(ctx, item, "worker-1"); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	queued, _ := f.queue.GetByID(ctx, "q1")
	if queued.Status != model.QueueFailed {
		t.Fatalf("queue status = %s, want FAILED", queued.Status)
	}
	if queued.RetryCount > queued.MaxRetries {
		t.Fatalf("retry count %d exceeds max %d", queued.RetryCount, queued.MaxRetries)
	}
	got, _ := f.submissions.GetByID(ctx, "s1")
	if got.Status != model.SubmissionFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if n := len(f.events.EventsOfType(model.EventJudgeError)); n != 1 {
		t.Fatalf("judge.error events = %d, want 1", n)
	}
}
