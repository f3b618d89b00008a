package repository

import (
	"context"
	"encoding/json"
	"time"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/judge/model"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = 5 * time.Minute
	submissionCacheKeyPrefix       = "submission:"
)

// MySQLSubmissionRepository implements SubmissionRepository with MySQL and an
// optional Redis read-through cache.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with default cache TTLs.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultSubmissionCacheTTL,
		emptyTTL: defaultSubmissionCacheEmptyTTL,
	}
}

const submissionColumns = "submission_id, problem_id, user_id, language, source_code, source_key, source_hash, status, verdict, total_points, max_points, execution_time_ms, memory_usage_kb, compile_error, metadata, created_at, updated_at, judged_at"

// Create inserts a new submission in PENDING state.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errInvalid("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errInvalid("submissionID is required")
	}
	metadata, err := marshalMetadata(submission.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO submissions
		(submission_id, problem_id, user_id, language, source_code, source_key, source_hash,
		 status, verdict, total_points, max_points, execution_time_ms, memory_usage_kb, compile_error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.ProblemID,
		submission.UserID,
		string(submission.Language),
		submission.SourceCode,
		submission.SourceKey,
		submission.SourceHash,
		string(model.SubmissionPending),
		string(model.VerdictPending),
		0,
		submission.MaxPoints,
		0,
		0,
		"",
		metadata,
	)
	if err != nil {
		return err
	}
	r.invalidate(ctx, submission.SubmissionID)
	return nil
}

// GetByID loads a submission including its case results.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errInvalid("submissionID is required")
	}
	if r.cache != nil {
		submission, err := cache.GetWithCached[*model.Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *model.Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*model.Submission, error) {
				submission, err := r.getByIDFromDB(ctx, submissionID)
				if err != nil {
					if err == ErrSubmissionNotFound {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, submissionID)
}

// ListByUser returns recent submissions for a user, newest first.
func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Submission, error) {
	if userID == "" {
		return nil, errInvalid("userID is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}

// MarkRunning transitions PENDING -> RUNNING. Calling it on a submission
// already RUNNING is a no-op, so retried queue items re-enter judging cleanly.
func (r *MySQLSubmissionRepository) MarkRunning(ctx context.Context, submissionID string) error {
	result, err := r.db.Exec(ctx,
		"UPDATE submissions SET status = ?, updated_at = NOW() WHERE submission_id = ? AND status = ?",
		string(model.SubmissionRunning), submissionID, string(model.SubmissionPending),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := r.db.QueryRow(ctx,
			"SELECT status FROM submissions WHERE submission_id = ?", submissionID).Scan(&status)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrSubmissionNotFound
			}
			return err
		}
		if model.SubmissionStatus(status) != model.SubmissionRunning {
			return ErrSubmissionNotFound
		}
		return nil
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// ReturnToPending transitions RUNNING -> PENDING after a lease release, so
// the submission state mirrors its queue item. Already PENDING is a no-op.
func (r *MySQLSubmissionRepository) ReturnToPending(ctx context.Context, submissionID string) error {
	result, err := r.db.Exec(ctx,
		"UPDATE submissions SET status = ?, updated_at = NOW() WHERE submission_id = ? AND status = ?",
		string(model.SubmissionPending), submissionID, string(model.SubmissionRunning),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := r.db.QueryRow(ctx,
			"SELECT status FROM submissions WHERE submission_id = ?", submissionID).Scan(&status)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrSubmissionNotFound
			}
			return err
		}
		if model.SubmissionStatus(status) != model.SubmissionPending {
			return ErrSubmissionNotFound
		}
		return nil
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// FinalizeJudged writes case results and the aggregated verdict atomically.
func (r *MySQLSubmissionRepository) FinalizeJudged(ctx context.Context, submissionID string, results []model.CaseResult, summary model.JudgeSummary) error {
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		for seq, cr := range results {
			if err := insertCaseResult(ctx, tx, submissionID, seq, cr); err != nil {
				return err
			}
		}
		result, err := tx.Exec(ctx, `
			UPDATE submissions
			SET status = ?, verdict = ?, total_points = ?, execution_time_ms = ?,
			    memory_usage_kb = ?, compile_error = ?, judged_at = NOW(), updated_at = NOW()
			WHERE submission_id = ? AND status = ?
		`,
			string(model.SubmissionCompleted),
			string(summary.Verdict),
			summary.TotalPoints,
			summary.ExecutionTimeMS,
			summary.MemoryUsageKB,
			summary.CompileError,
			submissionID,
			string(model.SubmissionRunning),
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrSubmissionNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// FinalizeFailed transitions the submission to FAILED with INTERNAL_ERROR.
func (r *MySQLSubmissionRepository) FinalizeFailed(ctx context.Context, submissionID, message string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE submissions
		SET status = ?, verdict = ?, compile_error = '', judged_at = NOW(), updated_at = NOW()
		WHERE submission_id = ? AND status IN (?, ?)
	`,
		string(model.SubmissionFailed),
		string(model.VerdictInternalError),
		submissionID,
		string(model.SubmissionPending),
		string(model.SubmissionRunning),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubmissionNotFound
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// ResetForRejudge returns a terminal submission to PENDING and clears prior results.
func (r *MySQLSubmissionRepository) ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID string) error {
	querier := db.GetQuerier(r.db, tx)
	result, err := querier.Exec(ctx, `
		UPDATE submissions
		SET status = ?, verdict = ?, total_points = 0, execution_time_ms = 0,
		    memory_usage_kb = 0, compile_error = '', judged_at = NULL, updated_at = NOW()
		WHERE submission_id = ? AND status IN (?, ?)
	`,
		string(model.SubmissionPending),
		string(model.VerdictPending),
		submissionID,
		string(model.SubmissionCompleted),
		string(model.SubmissionFailed),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubmissionNotFound
	}
	if _, err := querier.Exec(ctx, "DELETE FROM case_results WHERE submission_id = ?", submissionID); err != nil {
		return err
	}
	r.invalidate(ctx, submissionID)
	return nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, submissionID string) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := r.db.QueryRow(ctx, query, submissionID)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	results, err := r.loadCaseResults(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	submission.CaseResults = results
	return submission, nil
}

func (r *MySQLSubmissionRepository) loadCaseResults(ctx context.Context, submissionID string) ([]model.CaseResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT case_id, verdict, points_awarded, execution_time_ms, memory_used_kb,
		       output_excerpt, stderr_excerpt, exit_code, feedback
		FROM case_results WHERE submission_id = ? ORDER BY seq ASC
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.CaseResult
	for rows.Next() {
		var cr model.CaseResult
		var caseVerdict string
		if err := rows.Scan(
			&cr.CaseID,
			&caseVerdict,
			&cr.PointsAwarded,
			&cr.ExecutionTimeMS,
			&cr.MemoryUsedKB,
			&cr.OutputExcerpt,
			&cr.StderrExcerpt,
			&cr.ExitCode,
			&cr.Feedback,
		); err != nil {
			return nil, err
		}
		cr.Verdict = model.Verdict(caseVerdict)
		results = append(results, cr)
	}
	return results, rows.Err()
}

func insertCaseResult(ctx context.Context, tx db.Transaction, submissionID string, seq int, cr model.CaseResult) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO case_results
		(submission_id, case_id, verdict, points_awarded, execution_time_ms, memory_used_kb,
		 output_excerpt, stderr_excerpt, exit_code, feedback, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		submissionID,
		cr.CaseID,
		string(cr.Verdict),
		cr.PointsAwarded,
		cr.ExecutionTimeMS,
		cr.MemoryUsedKB,
		cr.OutputExcerpt,
		cr.StderrExcerpt,
		cr.ExitCode,
		cr.Feedback,
		seq,
	)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	submission := &model.Submission{}
	var (
		language, status, verdict string
		metadata                  []byte
		judgedAt                  *time.Time
	)
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.ProblemID,
		&submission.UserID,
		&language,
		&submission.SourceCode,
		&submission.SourceKey,
		&submission.SourceHash,
		&status,
		&verdict,
		&submission.TotalPoints,
		&submission.MaxPoints,
		&submission.ExecutionTimeMS,
		&submission.MemoryUsageKB,
		&submission.CompileError,
		&metadata,
		&submission.CreatedAt,
		&submission.UpdatedAt,
		&judgedAt,
	); err != nil {
		return nil, err
	}
	submission.Language = model.Language(language)
	submission.Status = model.SubmissionStatus(status)
	submission.Verdict = model.Verdict(verdict)
	submission.JudgedAt = judgedAt
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &submission.Metadata); err != nil {
			return nil, err
		}
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) invalidate(ctx context.Context, submissionID string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func marshalSubmission(submission *model.Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*model.Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission model.Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

func marshalMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
