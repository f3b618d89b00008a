package model

import "time"

// MaxSourceBytes bounds submitted source size at create time.
const MaxSourceBytes = 100_000

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "PENDING"
	SubmissionRunning   SubmissionStatus = "RUNNING"
	SubmissionCompleted SubmissionStatus = "COMPLETED"
	SubmissionFailed    SubmissionStatus = "FAILED"
	SubmissionCancelled SubmissionStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further judging.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionCompleted, SubmissionFailed, SubmissionCancelled:
		return true
	default:
		return false
	}
}

// Submission is the canonical unit of work the engine grades.
type Submission struct {
	SubmissionID string
	ProblemID    string
	UserID       string
	Language     Language
	SourceCode   string

	// SourceKey and SourceHash identify the archived copy of the source
	// in object storage. Empty when archiving failed or is disabled.
	SourceKey  string
	SourceHash string

	Metadata map[string]string

	Status  SubmissionStatus
	Verdict Verdict

	TotalPoints     int
	MaxPoints       int
	ExecutionTimeMS int64
	MemoryUsageKB   int64
	CompileError    string

	CreatedAt time.Time
	UpdatedAt time.Time
	JudgedAt  *time.Time

	CaseResults []CaseResult
}

// CaseResult is one grader case outcome. It is written once during grading
// and never mutated afterwards.
type CaseResult struct {
	CaseID          string
	Verdict         Verdict
	PointsAwarded   int
	ExecutionTimeMS int64
	MemoryUsedKB    int64
	OutputExcerpt   string
	StderrExcerpt   string
	ExitCode        int
	Feedback        string
}
