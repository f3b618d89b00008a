package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/sandbox"
	appErr "gavel/pkg/errors"
)

// adhocExecutor returns a fixed result or error and records the last request.
type adhocExecutor struct {
	result sandbox.Result
	err    error
	last   sandbox.Request
}

func (e *adhocExecutor) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	e.last = req
	return e.result, e.err
}

func newExecuteService(t *testing.T, exec sandbox.Executor) (*ExecuteService, *repository.MemoryExecutionRepository) {
	t.Helper()
	executions := repository.NewMemoryExecutionRepository()
	svc, err := NewExecuteService(executions, exec)
	if err != nil {
		t.Fatalf("NewExecuteService: %v", err)
	}
	return svc, executions
}

func TestExecuteHappyPath(t *testing.T) {
	t.Parallel()
	exec := &adhocExecutor{result: sandbox.Result{
		Stdout:       []byte("42\n"),
		ExitCode:     0,
		WallTimeMS:   17,
		PeakMemoryKB: 2048,
		Termination:  sandbox.TerminationNormal,
	}}
	svc, _ := newExecuteService(t, exec)

	execution, err := svc.Execute(context.Background(), ExecuteRequest{
		UserID:     "u1",
		Language:   "python",
		SourceCode: "print(21 * 2)",
		Stdin:      "ignored",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execution.Status != model.ExecutionCompleted {
		t.Fatalf("status = %s, want COMPLETED", execution.Status)
	}
	if execution.Result.Stdout != "42\n" || execution.Result.ExecutionTimeMS != 17 {
		t.Fatalf("result = %+v", execution.Result)
	}
	if exec.last.TimeLimitMS != model.DefaultTimeLimitMS || exec.last.MemoryLimitMB != model.DefaultMemoryMB {
		t.Fatalf("defaults not applied: time=%d mem=%d", exec.last.TimeLimitMS, exec.last.MemoryLimitMB)
	}
	if string(exec.last.Stdin) != "ignored" {
		t.Fatalf("stdin = %q", exec.last.Stdin)
	}
}

func TestExecuteCustomLimitsForwarded(t *testing.T) {
	t.Parallel()
	exec := &adhocExecutor{result: sandbox.Result{Termination: sandbox.TerminationNormal}}
	svc, _ := newExecuteService(t, exec)

	_, err := svc.Execute(context.Background(), ExecuteRequest{
		UserID:        "u1",
		Language:      "python",
		SourceCode:    "pass",
		TimeLimitMS:   5000,
		MemoryLimitMB: 512,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.last.TimeLimitMS != 5000 || exec.last.MemoryLimitMB != 512 {
		t.Fatalf("limits not forwarded: time=%d mem=%d", exec.last.TimeLimitMS, exec.last.MemoryLimitMB)
	}
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newExecuteService(t, &adhocExecutor{})

	cases := []struct {
		name     string
		req      ExecuteRequest
		wantCode appErr.ErrorCode
	}{
		{
			name:     "missing user",
			req:      ExecuteRequest{Language: "python", SourceCode: "pass"},
			wantCode: appErr.RequiredFieldEmpty,
		},
		{
			name:     "blank source",
			req:      ExecuteRequest{UserID: "u1", Language: "python", SourceCode: "   \n"},
			wantCode: appErr.SourceEmpty,
		},
		{
			name:     "oversized source",
			req:      ExecuteRequest{UserID: "u1", Language: "python", SourceCode: strings.Repeat("a", model.MaxSourceBytes+1)},
			wantCode: appErr.SourceTooLarge,
		},
		{
			name:     "unknown language",
			req:      ExecuteRequest{UserID: "u1", Language: "cobol", SourceCode: "pass"},
			wantCode: appErr.LanguageNotSupported,
		},
		{
			name:     "time limit too high",
			req:      ExecuteRequest{UserID: "u1", Language: "python", SourceCode: "pass", TimeLimitMS: model.MaxTimeLimitMS + 1},
			wantCode: appErr.LimitOutOfPolicy,
		},
		{
			name:     "time limit too low",
			req:      ExecuteRequest{UserID: "u1", Language: "python", SourceCode: "pass", TimeLimitMS: model.MinTimeLimitMS - 1},
			wantCode: appErr.LimitOutOfPolicy,
		},
		{
			name:     "memory limit too high",
			req:      ExecuteRequest{UserID: "u1", Language: "python", SourceCode: "pass", MemoryLimitMB: model.MaxMemoryMB + 1},
			wantCode: appErr.LimitOutOfPolicy,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Execute(context.Background(), tc.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := appErr.GetCode(err); code != tc.wantCode {
				t.Fatalf("code = %d, want %d", code, tc.wantCode)
			}
		})
	}
}

// recordingExecutions remembers the id of the last created execution.
type recordingExecutions struct {
	*repository.MemoryExecutionRepository
	lastID string
}

func (r *recordingExecutions) Create(ctx context.Context, execution *model.CodeExecution) error {
	r.lastID = execution.ExecutionID
	return r.MemoryExecutionRepository.Create(ctx, execution)
}

func TestExecuteSandboxFailureRecorded(t *testing.T) {
	t.Parallel()
	exec := &adhocExecutor{err: errors.New("sandbox unreachable")}
	executions := &recordingExecutions{MemoryExecutionRepository: repository.NewMemoryExecutionRepository()}
	svc, err := NewExecuteService(executions, exec)
	if err != nil {
		t.Fatalf("NewExecuteService: %v", err)
	}

	_, err = svc.Execute(context.Background(), ExecuteRequest{
		UserID:     "u1",
		Language:   "python",
		SourceCode: "pass",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if code := appErr.GetCode(err); code != appErr.ExecutionFailed {
		t.Fatalf("code = %d, want ExecutionFailed", code)
	}

	failed, gerr := executions.GetByID(context.Background(), executions.lastID)
	if gerr != nil {
		t.Fatalf("GetByID: %v", gerr)
	}
	if failed.Status != model.ExecutionFailed || failed.ErrorMessage == "" {
		t.Fatalf("execution = %+v", failed)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	t.Parallel()
	svc, _ := newExecuteService(t, &adhocExecutor{})
	_, err := svc.GetExecution(context.Background(), "missing")
	if code := appErr.GetCode(err); code != appErr.ExecutionNotFound {
		t.Fatalf("code = %d, want ExecutionNotFound", code)
	}
}
