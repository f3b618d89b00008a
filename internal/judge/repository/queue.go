package repository

import (
	"context"
	"encoding/json"
	"time"

	"gavel/internal/common/db"
	"gavel/internal/judge/model"
)

// MySQLQueueRepository implements QueueRepository. The claim and release
// operations are single guarded UPDATE statements so that concurrent workers
// never observe the same item.
type MySQLQueueRepository struct {
	db db.Database
}

// NewQueueRepository creates a MySQL-backed queue repository.
func NewQueueRepository(database db.Database) *MySQLQueueRepository {
	return &MySQLQueueRepository{db: database}
}

const queueColumns = "queue_id, submission_id, priority, retry_count, max_retries, status, worker_id, error_message, metadata, created_at, updated_at, assigned_at, started_at, completed_at"

// Enqueue inserts a PENDING item, enforcing one live item per submission.
func (r *MySQLQueueRepository) Enqueue(ctx context.Context, tx db.Transaction, item *model.QueueItem) error {
	if item == nil {
		return errInvalid("queue item is nil")
	}
	if item.QueueID == "" || item.SubmissionID == "" {
		return errInvalid("queueID and submissionID are required")
	}
	querier := db.GetQuerier(r.db, tx)

	var live int
	err := querier.QueryRow(ctx,
		"SELECT COUNT(*) FROM queue_items WHERE submission_id = ? AND status IN (?, ?)",
		item.SubmissionID, string(model.QueuePending), string(model.QueueRunning),
	).Scan(&live)
	if err != nil {
		return err
	}
	if live > 0 {
		return ErrLiveQueueItemExists
	}

	metadata, err := marshalMetadata(item.Metadata)
	if err != nil {
		return err
	}
	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	_, err = querier.Exec(ctx, `
		INSERT INTO queue_items
		(queue_id, submission_id, priority, retry_count, max_retries, status, worker_id, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, '', '', ?)
	`,
		item.QueueID,
		item.SubmissionID,
		model.ClampPriority(item.Priority),
		item.RetryCount,
		maxRetries,
		string(model.QueuePending),
		metadata,
	)
	if _, dup := db.UniqueViolation(err); dup {
		return ErrLiveQueueItemExists
	}
	return err
}

// GetByID loads one queue item.
func (r *MySQLQueueRepository) GetByID(ctx context.Context, queueID string) (*model.QueueItem, error) {
	query := "SELECT " + queueColumns + " FROM queue_items WHERE queue_id = ? LIMIT 1"
	item, err := scanQueueItem(r.db.QueryRow(ctx, query, queueID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrQueueItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// GetLiveBySubmission returns the PENDING or RUNNING item for a submission.
func (r *MySQLQueueRepository) GetLiveBySubmission(ctx context.Context, submissionID string) (*model.QueueItem, error) {
	query := "SELECT " + queueColumns + " FROM queue_items WHERE submission_id = ? AND status IN (?, ?) LIMIT 1"
	item, err := scanQueueItem(r.db.QueryRow(ctx, query, submissionID,
		string(model.QueuePending), string(model.QueueRunning)))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrQueueItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// ClaimNext leases the highest-priority PENDING item to workerID. The UPDATE
// with ORDER BY + LIMIT is atomic under MySQL, so two workers calling
// concurrently claim distinct items.
func (r *MySQLQueueRepository) ClaimNext(ctx context.Context, workerID string) (*model.QueueItem, error) {
	if workerID == "" {
		return nil, errInvalid("workerID is required")
	}
	result, err := r.db.Exec(ctx, `
		UPDATE queue_items
		SET status = ?, worker_id = ?, assigned_at = NOW(), started_at = NOW(), updated_at = NOW()
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, string(model.QueueRunning), workerID, string(model.QueuePending))
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	query := "SELECT " + queueColumns + " FROM queue_items WHERE worker_id = ? AND status = ? LIMIT 1"
	item, err := scanQueueItem(r.db.QueryRow(ctx, query, workerID, string(model.QueueRunning)))
	if err != nil {
		if db.IsNoRows(err) {
			// Claimed but released by maintenance in between. Treat as empty.
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// Complete transitions a RUNNING item to COMPLETED, guarded by lease ownership.
func (r *MySQLQueueRepository) Complete(ctx context.Context, queueID, workerID string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE queue_items
		SET status = ?, completed_at = NOW(), updated_at = NOW()
		WHERE queue_id = ? AND worker_id = ? AND status = ?
	`, string(model.QueueCompleted), queueID, workerID, string(model.QueueRunning))
	if err != nil {
		return err
	}
	return r.guardOwned(ctx, result, queueID)
}

// Fail transitions a RUNNING item to FAILED, guarded by lease ownership.
func (r *MySQLQueueRepository) Fail(ctx context.Context, queueID, workerID, message string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE queue_items
		SET status = ?, error_message = ?, completed_at = NOW(), updated_at = NOW()
		WHERE queue_id = ? AND worker_id = ? AND status = ?
	`, string(model.QueueFailed), message, queueID, workerID, string(model.QueueRunning))
	if err != nil {
		return err
	}
	return r.guardOwned(ctx, result, queueID)
}

func (r *MySQLQueueRepository) guardOwned(ctx context.Context, result db.Result, queueID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM queue_items WHERE queue_id = ?", queueID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrQueueItemNotFound
	}
	return ErrNotOwner
}

// ReleaseWorker returns workerID's RUNNING items to the queue.
func (r *MySQLQueueRepository) ReleaseWorker(ctx context.Context, workerID string) (released, failed []model.QueueItem, err error) {
	if workerID == "" {
		return nil, nil, errInvalid("workerID is required")
	}
	return r.release(ctx, "worker_id = ? AND status = ?", workerID, string(model.QueueRunning))
}

// ReleaseStale returns RUNNING items whose lease started before olderThan.
func (r *MySQLQueueRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (released, failed []model.QueueItem, err error) {
	return r.release(ctx, "status = ? AND started_at IS NOT NULL AND started_at < ?",
		string(model.QueueRunning), olderThan)
}

// release returns matching RUNNING items to PENDING with the retry counter
// bumped; items out of retries go to FAILED instead. Runs in one transaction
// so maintenance and worker shutdown cannot double-release an item.
func (r *MySQLQueueRepository) release(ctx context.Context, where string, args ...interface{}) (released, failed []model.QueueItem, err error) {
	err = r.db.Transaction(ctx, func(tx db.Transaction) error {
		rows, err := tx.Query(ctx,
			"SELECT "+queueColumns+" FROM queue_items WHERE "+where+" FOR UPDATE", args...)
		if err != nil {
			return err
		}
		items, err := collectQueueItems(rows)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.RetryCount < item.MaxRetries {
				_, err = tx.Exec(ctx, `
					UPDATE queue_items
					SET status = ?, worker_id = '', retry_count = retry_count + 1,
					    assigned_at = NULL, started_at = NULL, updated_at = NOW()
					WHERE queue_id = ?
				`, string(model.QueuePending), item.QueueID)
				if err != nil {
					return err
				}
				item.Status = model.QueuePending
				item.RetryCount++
				item.WorkerID = ""
				released = append(released, *item)
				continue
			}
			_, err = tx.Exec(ctx, `
				UPDATE queue_items
				SET status = ?, worker_id = '', error_message = ?,
				    completed_at = NOW(), updated_at = NOW()
				WHERE queue_id = ?
			`, string(model.QueueFailed), "retries exhausted", item.QueueID)
			if err != nil {
				return err
			}
			item.Status = model.QueueFailed
			item.WorkerID = ""
			item.ErrorMessage = "retries exhausted"
			failed = append(failed, *item)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return released, failed, nil
}

// PurgeCompleted deletes COMPLETED items older than the cutoff.
func (r *MySQLQueueRepository) PurgeCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(ctx,
		"DELETE FROM queue_items WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?",
		string(model.QueueCompleted), olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats returns the queue health snapshot.
func (r *MySQLQueueRepository) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM queue_items GROUP BY status")
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch model.QueueStatus(status) {
		case model.QueuePending:
			stats.Pending = count
		case model.QueueRunning:
			stats.Running = count
		case model.QueueCompleted:
			stats.Completed = count
		case model.QueueFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = r.db.QueryRow(ctx,
		"SELECT COUNT(DISTINCT worker_id) FROM queue_items WHERE status = ?",
		string(model.QueueRunning)).Scan(&stats.ActiveWorkers)
	if err != nil {
		return stats, err
	}

	var oldest *time.Time
	err = r.db.QueryRow(ctx,
		"SELECT MIN(created_at) FROM queue_items WHERE status = ?",
		string(model.QueuePending)).Scan(&oldest)
	if err != nil {
		return stats, err
	}
	if oldest != nil {
		stats.OldestPendingAge = time.Since(*oldest)
	}
	return stats, nil
}

func scanQueueItem(row scanner) (*model.QueueItem, error) {
	item := &model.QueueItem{}
	var (
		status   string
		metadata []byte
	)
	if err := row.Scan(
		&item.QueueID,
		&item.SubmissionID,
		&item.Priority,
		&item.RetryCount,
		&item.MaxRetries,
		&status,
		&item.WorkerID,
		&item.ErrorMessage,
		&metadata,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.AssignedAt,
		&item.StartedAt,
		&item.CompletedAt,
	); err != nil {
		return nil, err
	}
	item.Status = model.QueueStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func collectQueueItems(rows db.Rows) ([]*model.QueueItem, error) {
	defer rows.Close()
	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
