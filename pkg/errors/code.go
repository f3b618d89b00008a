package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Submission errors
// 12000-12999: Queue & Dispatch errors
// 13000-13999: Execution & Sandbox errors
// 14000-14999: Catalog errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Conflict            ErrorCode = 10004
	TooManyRequests     ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10006
	Timeout             ErrorCode = 10007

	// Store errors (10100-10199)
	StoreUnavailable  ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	DuplicateRecord   ErrorCode = 10102
	TransactionFailed ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10301
	ValueOutOfRange    ErrorCode = 10302

	// ========== Submission Errors (11000-11999) ==========

	SubmissionNotFound     ErrorCode = 11000
	SubmissionCreateFailed ErrorCode = 11001
	SourceTooLarge         ErrorCode = 11002
	SourceEmpty            ErrorCode = 11003
	LanguageNotSupported   ErrorCode = 11004
	SubmitTooFrequently    ErrorCode = 11005
	RejudgeConflict        ErrorCode = 11006

	// ========== Queue & Dispatch Errors (12000-12999) ==========

	QueueItemNotFound ErrorCode = 12000
	QueueConflict     ErrorCode = 12001
	LeaseExpired      ErrorCode = 12002
	RetriesExhausted  ErrorCode = 12003
	EnqueueFailed     ErrorCode = 12004

	// ========== Execution & Sandbox Errors (13000-13999) ==========

	ExecutionNotFound ErrorCode = 13000
	ExecutionFailed   ErrorCode = 13001
	SandboxInternal   ErrorCode = 13002
	LimitOutOfPolicy  ErrorCode = 13003

	// ========== Catalog Errors (14000-14999) ==========

	ProblemNotFound  ErrorCode = 14000
	ProblemInactive  ErrorCode = 14001
	ManifestEmpty    ErrorCode = 14002
	CatalogUnhealthy ErrorCode = 14003
)

var codeMessages = map[ErrorCode]string{
	Success:             "success",
	InternalServerError: "internal server error",
	InvalidParams:       "invalid parameters",
	NotFound:            "resource not found",
	Conflict:            "operation conflicts with current state",
	TooManyRequests:     "too many requests",
	ServiceUnavailable:  "service unavailable",
	Timeout:             "operation timed out",

	StoreUnavailable:  "store temporarily unavailable",
	RecordNotFound:    "record not found",
	DuplicateRecord:   "record already exists",
	TransactionFailed: "transaction failed",

	CacheError: "cache operation failed",

	ValidationFailed:   "validation failed",
	RequiredFieldEmpty: "required field is empty",
	ValueOutOfRange:    "value out of range",

	SubmissionNotFound:     "submission not found",
	SubmissionCreateFailed: "create submission failed",
	SourceTooLarge:         "source code too large",
	SourceEmpty:            "source code is empty",
	LanguageNotSupported:   "language not supported",
	SubmitTooFrequently:    "submit too frequently",
	RejudgeConflict:        "submission is not in a terminal state",

	QueueItemNotFound: "queue item not found",
	QueueConflict:     "queue item owned by another worker",
	LeaseExpired:      "worker lease expired",
	RetriesExhausted:  "retries exhausted",
	EnqueueFailed:     "enqueue failed",

	ExecutionNotFound: "execution not found",
	ExecutionFailed:   "execution failed",
	SandboxInternal:   "sandbox internal error",
	LimitOutOfPolicy:  "resource limit outside policy bounds",

	ProblemNotFound:  "problem not found",
	ProblemInactive:  "problem is not accepting submissions",
	ManifestEmpty:    "problem has no test cases",
	CatalogUnhealthy: "catalog unavailable",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unknown error"
}

// HTTPStatus maps the error code to an HTTP status code
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case InvalidParams, ValidationFailed, RequiredFieldEmpty, ValueOutOfRange,
		SourceTooLarge, SourceEmpty, LanguageNotSupported, LimitOutOfPolicy:
		return http.StatusBadRequest
	case NotFound, RecordNotFound, SubmissionNotFound, QueueItemNotFound,
		ExecutionNotFound, ProblemNotFound:
		return http.StatusNotFound
	case Conflict, DuplicateRecord, RejudgeConflict, QueueConflict:
		return http.StatusConflict
	case TooManyRequests, SubmitTooFrequently:
		return http.StatusTooManyRequests
	case ServiceUnavailable, StoreUnavailable, CatalogUnhealthy:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether the error code represents a temporary
// condition that is safe to retry.
func (c ErrorCode) IsTransient() bool {
	switch c {
	case StoreUnavailable, TransactionFailed, CacheError, ServiceUnavailable,
		Timeout, CatalogUnhealthy:
		return true
	default:
		return false
	}
}
