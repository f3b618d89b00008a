package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a published domain event.
type EventType string

const (
	EventSubmissionCreated EventType = "submission.created"
	EventJudgeStarted      EventType = "judge.started"
	EventJudgeCompleted    EventType = "judge.completed"
	EventJudgeError        EventType = "judge.error"
)

// Event is the envelope published to the event bus. Delivery is best-effort
// at-least-once; CorrelationID is the submission id for lifecycle events.
type Event struct {
	EventID       string      `json:"event_id"`
	Type          EventType   `json:"type"`
	OccurredAt    time.Time   `json:"occurred_at"`
	CorrelationID string      `json:"correlation_id"`
	Payload       interface{} `json:"payload"`
}

// NewEvent builds an event envelope with a fresh id and timestamp.
func NewEvent(eventType EventType, correlationID string, payload interface{}) Event {
	return Event{
		EventID:       uuid.NewString(),
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// SubmissionCreatedPayload accompanies EventSubmissionCreated.
type SubmissionCreatedPayload struct {
	SubmissionID string   `json:"submission_id"`
	UserID       string   `json:"user_id"`
	ProblemID    string   `json:"problem_id"`
	Language     Language `json:"language"`
	Rejudge      bool     `json:"rejudge"`
}

// JudgeStartedPayload accompanies EventJudgeStarted.
type JudgeStartedPayload struct {
	SubmissionID string `json:"submission_id"`
	WorkerID     string `json:"worker_id"`
}

// JudgeCompletedPayload accompanies EventJudgeCompleted.
type JudgeCompletedPayload struct {
	SubmissionID    string  `json:"submission_id"`
	Result          Verdict `json:"result"`
	TotalPoints     int     `json:"total_points"`
	MaxPoints       int     `json:"max_points"`
	ExecutionTimeMS int64   `json:"execution_time_ms"`
	MemoryUsageKB   int64   `json:"memory_usage_kb"`
}

// JudgeErrorPayload accompanies EventJudgeError.
type JudgeErrorPayload struct {
	SubmissionID string `json:"submission_id"`
	ErrorKind    string `json:"error_kind"`
	Message      string `json:"message"`
}
