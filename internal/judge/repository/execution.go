package repository

import (
	"context"
	"time"

	"gavel/internal/common/db"
	"gavel/internal/judge/model"
)

// MySQLExecutionRepository implements ExecutionRepository.
type MySQLExecutionRepository struct {
	db db.Database
}

// NewExecutionRepository creates a MySQL-backed execution repository.
func NewExecutionRepository(database db.Database) *MySQLExecutionRepository {
	return &MySQLExecutionRepository{db: database}
}

const executionColumns = "execution_id, user_id, language, source_code, stdin, time_limit_ms, memory_limit_mb, status, stdout, stderr, exit_code, execution_time_ms, memory_usage_kb, termination, error_message, created_at, updated_at"

// Create inserts a new execution record in PENDING state.
func (r *MySQLExecutionRepository) Create(ctx context.Context, execution *model.CodeExecution) error {
	if execution == nil {
		return errInvalid("execution is nil")
	}
	if execution.ExecutionID == "" {
		return errInvalid("executionID is required")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO code_executions
		(execution_id, user_id, language, source_code, stdin, time_limit_ms, memory_limit_mb,
		 status, stdout, stderr, exit_code, execution_time_ms, memory_usage_kb, termination, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', 0, 0, 0, '', '')
	`,
		execution.ExecutionID,
		execution.UserID,
		string(execution.Language),
		execution.SourceCode,
		execution.Stdin,
		execution.TimeLimitMS,
		execution.MemoryLimitMB,
		string(model.ExecutionPending),
	)
	return err
}

// GetByID loads one execution.
func (r *MySQLExecutionRepository) GetByID(ctx context.Context, executionID string) (*model.CodeExecution, error) {
	query := "SELECT " + executionColumns + " FROM code_executions WHERE execution_id = ? LIMIT 1"
	row := r.db.QueryRow(ctx, query, executionID)

	execution := &model.CodeExecution{}
	var language, status string
	err := row.Scan(
		&execution.ExecutionID,
		&execution.UserID,
		&language,
		&execution.SourceCode,
		&execution.Stdin,
		&execution.TimeLimitMS,
		&execution.MemoryLimitMB,
		&status,
		&execution.Result.Stdout,
		&execution.Result.Stderr,
		&execution.Result.ExitCode,
		&execution.Result.ExecutionTimeMS,
		&execution.Result.MemoryUsageKB,
		&execution.Result.Termination,
		&execution.ErrorMessage,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	execution.Language = model.Language(language)
	execution.Status = model.ExecutionStatus(status)
	return execution, nil
}

// Finish records the sandbox result and the terminal status.
func (r *MySQLExecutionRepository) Finish(ctx context.Context, executionID string, status model.ExecutionStatus, result model.ExecutionResult, errorMessage string) error {
	res, err := r.db.Exec(ctx, `
		UPDATE code_executions
		SET status = ?, stdout = ?, stderr = ?, exit_code = ?, execution_time_ms = ?,
		    memory_usage_kb = ?, termination = ?, error_message = ?, updated_at = NOW()
		WHERE execution_id = ?
	`,
		string(status),
		result.Stdout,
		result.Stderr,
		result.ExitCode,
		result.ExecutionTimeMS,
		result.MemoryUsageKB,
		result.Termination,
		errorMessage,
		executionID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// PurgeOlderThan deletes terminal executions older than the cutoff.
func (r *MySQLExecutionRepository) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(ctx,
		"DELETE FROM code_executions WHERE status IN (?, ?) AND updated_at < ?",
		string(model.ExecutionCompleted), string(model.ExecutionFailed), olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
