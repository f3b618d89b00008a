package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/sandbox"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

// ExecuteService runs ad-hoc code with no problem association. Executions
// bypass the queue and never produce verdicts or events.
type ExecuteService struct {
	executions repository.ExecutionRepository
	exec       sandbox.Executor
}

// NewExecuteService creates an execute service.
func NewExecuteService(executions repository.ExecutionRepository, exec sandbox.Executor) (*ExecuteService, error) {
	if executions == nil {
		return nil, errors.New("execute service: execution repository is required")
	}
	if exec == nil {
		return nil, errors.New("execute service: sandbox executor is required")
	}
	return &ExecuteService{executions: executions, exec: exec}, nil
}

// ExecuteRequest is an ad-hoc run request. Zero limits take the defaults;
// out-of-policy limits are rejected, not clamped.
type ExecuteRequest struct {
	UserID        string
	Language      string
	SourceCode    string
	Stdin         string
	TimeLimitMS   int
	MemoryLimitMB int
}

// Execute validates limits, runs the code synchronously and persists the
// result.
func (s *ExecuteService) Execute(ctx context.Context, req ExecuteRequest) (*model.CodeExecution, error) {
	if req.UserID == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("userID is required")
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

	timeLimitMS := req.TimeLimitMS
	if timeLimitMS == 0 {
		timeLimitMS = model.DefaultTimeLimitMS
	}
	memoryLimitMB := req.MemoryLimitMB
	if memoryLimitMB == 0 {
		memoryLimitMB = model.DefaultMemoryMB
	}
	if timeLimitMS < model.MinTimeLimitMS || timeLimitMS > model.MaxTimeLimitMS {
		return nil, appErr.Newf(appErr.LimitOutOfPolicy,
			"time limit must be between %d and %d ms", model.MinTimeLimitMS, model.MaxTimeLimitMS)
	}
	if memoryLimitMB < model.MinMemoryMB || memoryLimitMB > model.MaxMemoryMB {
		return nil, appErr.Newf(appErr.LimitOutOfPolicy,
			"memory limit must be between %d and %d MB", model.MinMemoryMB, model.MaxMemoryMB)
	}

	execution := &model.CodeExecution{
		ExecutionID:   uuid.NewString(),
		UserID:        req.UserID,
		Language:      language,
		SourceCode:    req.SourceCode,
		Stdin:         req.Stdin,
		TimeLimitMS:   timeLimitMS,
		MemoryLimitMB: memoryLimitMB,
	}
	if err := s.executions.Create(ctx, execution); err != nil {
		return nil, err
	}

	res, err := s.exec.Execute(ctx, sandbox.Request{
		Source:        req.SourceCode,
		Language:      language,
		Stdin:         []byte(req.Stdin),
		TimeLimitMS:   timeLimitMS,
		MemoryLimitMB: memoryLimitMB,
	})
	if err != nil {
		if ferr := s.executions.Finish(ctx, execution.ExecutionID, model.ExecutionFailed,
			model.ExecutionResult{}, err.Error()); ferr != nil {
			logger.Warn(ctx, "execution finish failed", zap.Error(ferr))
		}
		return nil, appErr.Wrap(err, appErr.ExecutionFailed)
	}

	result := model.ExecutionResult{
		Stdout:          string(res.Stdout),
		Stderr:          string(res.Stderr),
		ExitCode:        res.ExitCode,
		ExecutionTimeMS: res.WallTimeMS,
		MemoryUsageKB:   res.PeakMemoryKB,
		Termination:     string(res.Termination),
	}
	if err := s.executions.Finish(ctx, execution.ExecutionID, model.ExecutionCompleted, result, ""); err != nil {
		return nil, err
	}
	return s.executions.GetByID(ctx, execution.ExecutionID)
}

// GetExecution loads one execution.
func (s *ExecuteService) GetExecution(ctx context.Context, executionID string) (*model.CodeExecution, error) {
	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			return nil, appErr.Newf(appErr.ExecutionNotFound, "execution %s not found", executionID)
		}
		return nil, err
	}
	return execution, nil
}
