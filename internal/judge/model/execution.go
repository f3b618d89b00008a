package model

import "time"

// Resource limit policy bounds for ad-hoc executions.
const (
	MinTimeLimitMS = 100
	MaxTimeLimitMS = 30_000
	MinMemoryMB    = 16
	MaxMemoryMB    = 1024

	DefaultTimeLimitMS = 2000
	DefaultMemoryMB    = 256
)

// ExecutionStatus is the lifecycle state of an ad-hoc execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// ExecutionResult holds what the sandbox produced for an ad-hoc run.
type ExecutionResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	ExecutionTimeMS int64
	MemoryUsageKB   int64
	Termination     string
}

// CodeExecution is a one-shot code run with no problem association.
// It bypasses the queue and verdict aggregation.
type CodeExecution struct {
	ExecutionID string
	UserID      string
	Language    Language
	SourceCode  string
	Stdin       string

	TimeLimitMS   int
	MemoryLimitMB int

	Status       ExecutionStatus
	Result       ExecutionResult
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}
