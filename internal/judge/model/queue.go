package model

import "time"

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueuePending   QueueStatus = "PENDING"
	QueueRunning   QueueStatus = "RUNNING"
	QueueCompleted QueueStatus = "COMPLETED"
	QueueFailed    QueueStatus = "FAILED"
)

// IsLive reports whether the item still occupies the per-submission slot.
func (s QueueStatus) IsLive() bool {
	return s == QueuePending || s == QueueRunning
}

// Priority bounds and defaults for queue items.
const (
	PriorityBase    = 1
	PriorityMin     = 1
	PriorityMax     = 10
	PriorityRejudge = 5

	DefaultMaxRetries = 3
)

// QueueItem pairs a submission with its scheduling state. Exactly one live
// item may exist per submission at any moment.
type QueueItem struct {
	QueueID      string
	SubmissionID string
	Priority     int
	RetryCount   int
	MaxRetries   int
	Status       QueueStatus

	// WorkerID is the lease owner while Status is RUNNING, empty otherwise.
	WorkerID string

	ErrorMessage string
	Metadata     map[string]string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	AssignedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ClampPriority clamps a computed priority to the permitted range.
func ClampPriority(priority int) int {
	if priority < PriorityMin {
		return PriorityMin
	}
	if priority > PriorityMax {
		return PriorityMax
	}
	return priority
}
