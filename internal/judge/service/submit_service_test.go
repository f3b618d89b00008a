package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"gavel/internal/judge/catalog"
	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	appErr "gavel/pkg/errors"
)

type submitFixture struct {
	svc         *SubmitService
	submissions *repository.MemorySubmissionRepository
	queue       *repository.MemoryQueueRepository
	catalog     *catalog.MemoryCatalog
	events      *repository.CollectingEventPublisher
}

func newSubmitFixture(t *testing.T) *submitFixture {
	t.Helper()
	f := &submitFixture{
		submissions: repository.NewMemorySubmissionRepository(),
		queue:       repository.NewMemoryQueueRepository(),
		catalog:     catalog.NewMemoryCatalog(),
		events:      repository.NewCollectingEventPublisher(),
	}
	f.catalog.AddProblem(
		catalog.ProblemInfo{ProblemID: "p1", Title: "Sum", Difficulty: "medium", Active: true},
		model.CaseManifest{
			{CaseID: "c1", Input: []byte("1 2"), ExpectedOutput: []byte("3"), Points: 10, TimeLimitMS: 1000, MemoryLimitMB: 64},
			{CaseID: "c2", Input: []byte("3 4"), ExpectedOutput: []byte("7"), Points: 20, TimeLimitMS: 1000, MemoryLimitMB: 64},
		},
	)
	f.catalog.AddProblem(
		catalog.ProblemInfo{ProblemID: "p-inactive", Title: "Retired", Active: false},
		model.CaseManifest{{CaseID: "c1", Points: 10}},
	)

	svc, err := NewSubmitService(SubmitServiceConfig{
		Tx:          repository.NopTxRunner{},
		Submissions: f.submissions,
		Queue:       f.queue,
		Catalog:     f.catalog,
		Events:      f.events,
	})
	if err != nil {
		t.Fatalf("NewSubmitService: %v", err)
	}
	f.svc = svc
	return f
}

func validSubmit() SubmitRequest {
	return SubmitRequest{
		ProblemID:  "p1",
		UserID:     "u1",
		UserRole:   "user",
		Language:   "python",
		SourceCode: "print(sum(map(int, input().split())))",
	}
}

func TestSubmitHappyPath(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)

	submission, err := f.svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if submission.Status != model.SubmissionPending {
		t.Fatalf("status = %s, want PENDING", submission.Status)
	}
	if submission.Verdict != model.VerdictPending {
		t.Fatalf("verdict = %s, want PENDING", submission.Verdict)
	}
	if submission.MaxPoints != 30 {
		t.Fatalf("max points = %d, want 30", submission.MaxPoints)
	}

	item, err := f.queue.GetLiveBySubmission(context.Background(), submission.SubmissionID)
	if err != nil {
		t.Fatalf("expected live queue item: %v", err)
	}
	if item.Priority != 1 {
		t.Fatalf("priority = %d, want 1", item.Priority)
	}
	if item.Status != model.QueuePending {
		t.Fatalf("queue status = %s, want PENDING", item.Status)
	}

	created := f.events.EventsOfType(model.EventSubmissionCreated)
	if len(created) != 1 {
		t.Fatalf("submission.created events = %d, want 1", len(created))
	}
	if created[0].CorrelationID != submission.SubmissionID {
		t.Fatalf("correlation id = %s", created[0].CorrelationID)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		code   appErr.ErrorCode
	}{
		{"empty source", func(r *SubmitRequest) { r.SourceCode = "   \n\t" }, appErr.SourceEmpty},
		{"oversized source", func(r *SubmitRequest) { r.SourceCode = strings.Repeat("x", model.MaxSourceBytes+1) }, appErr.SourceTooLarge},
		{"unknown language", func(r *SubmitRequest) { r.Language = "cobol" }, appErr.LanguageNotSupported},
		{"missing user", func(r *SubmitRequest) { r.UserID = "" }, appErr.RequiredFieldEmpty},
		{"missing problem", func(r *SubmitRequest) { r.ProblemID = "nope" }, appErr.ProblemNotFound},
		{"inactive problem", func(r *SubmitRequest) { r.ProblemID = "p-inactive" }, appErr.ProblemInactive},
	}
	for _, tt := range tests {
		req := validSubmit()
		tt.mutate(&req)
		_, err := f.svc.Submit(ctx, req)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if got := appErr.GetCode(err); got != tt.code {
			t.Fatalf("%s: code = %d, want %d", tt.name, got, tt.code)
		}
	}
}

func TestSubmitEmptyManifestRejected(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)
	f.catalog.AddProblem(catalog.ProblemInfo{ProblemID: "p-empty", Active: true}, nil)

	req := validSubmit()
	req.ProblemID = "p-empty"
	_, err := f.svc.Submit(context.Background(), req)
	if got := appErr.GetCode(err); got != appErr.ManifestEmpty {
		t.Fatalf("code = %d, want ManifestEmpty", got)
	}
}

func TestSubmitAdminPriority(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)

	req := validSubmit()
	req.UserRole = "admin"
	submission, err := f.svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	item, err := f.queue.GetLiveBySubmission(context.Background(), submission.SubmissionID)
	if err != nil {
		t.Fatalf("GetLiveBySubmission: %v", err)
	}
	if item.Priority != 4 {
		t.Fatalf("priority = %d, want 4", item.Priority)
	}
}

func TestRejudgeOfLiveSubmissionConflicts(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)
	submission, err := f.svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err = f.svc.Rejudge(context.Background(), submission.SubmissionID, "admin")
	if got := appErr.GetCode(err); got != appErr.RejudgeConflict {
		t.Fatalf("code = %d, want RejudgeConflict", got)
	}
}

func TestRejudgeTerminalSubmission(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)
	ctx := context.Background()
	submission, err := f.svc.Submit(ctx, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Drive the original run to a terminal state by hand.
	item, err := f.queue.ClaimNext(ctx, "worker-test")
	if err != nil || item == nil {
		t.Fatalf("ClaimNext: item=%v err=%v", item, err)
	}
	if err := f.submissions.MarkRunning(ctx, submission.SubmissionID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := f.submissions.FinalizeJudged(ctx, submission.SubmissionID, nil,
		model.JudgeSummary{Verdict: model.VerdictWrongAnswer}); err != nil {
		t.Fatalf("FinalizeJudged: %v", err)
	}
	if err := f.queue.Complete(ctx, item.QueueID, "worker-test"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	rejudged, err := f.svc.Rejudge(ctx, submission.SubmissionID, "user")
	if err != nil {
		t.Fatalf("Rejudge: %v", err)
	}
	if rejudged.Status != model.SubmissionPending {
		t.Fatalf("status = %s, want PENDING", rejudged.Status)
	}
	if rejudged.Verdict != model.VerdictPending {
		t.Fatalf("verdict = %s, want PENDING", rejudged.Verdict)
	}
	if len(rejudged.CaseResults) != 0 {
		t.Fatalf("case results not cleared: %d", len(rejudged.CaseResults))
	}

	newItem, err := f.queue.GetLiveBySubmission(ctx, submission.SubmissionID)
	if err != nil {
		t.Fatalf("expected live item after rejudge: %v", err)
	}
	if newItem.Priority < model.PriorityRejudge {
		t.Fatalf("rejudge priority = %d, want >= %d", newItem.Priority, model.PriorityRejudge)
	}

	created := f.events.EventsOfType(model.EventSubmissionCreated)
	if len(created) != 2 {
		t.Fatalf("submission.created events = %d, want 2", len(created))
	}
	payload, ok := created[1].Payload.(model.SubmissionCreatedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", created[1].Payload)
	}
	if !payload.Rejudge {
		t.Fatal("rejudge flag not set on event")
	}
}

func TestRejudgeUnknownSubmission(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)
	_, err := f.svc.Rejudge(context.Background(), "missing", "admin")
	if got := appErr.GetCode(err); got != appErr.SubmissionNotFound {
		t.Fatalf("code = %d, want SubmissionNotFound", got)
	}
}

func TestListSubmissionsNewestFirst(t *testing.T) {
	t.Parallel()
	f := newSubmitFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, validSubmit()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(time.Millisecond)
	second, err := f.svc.Submit(ctx, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	listed, err := f.svc.ListSubmissions(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed = %d, want 2", len(listed))
	}
	if listed[0].SubmissionID != second.SubmissionID {
		t.Fatal("expected newest submission first")
	}
}
