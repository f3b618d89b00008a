package model

// JudgeSummary is the aggregate of a judge run, applied to the submission at
// finalization.
type JudgeSummary struct {
	Verdict         Verdict
	TotalPoints     int
	ExecutionTimeMS int64
	MemoryUsageKB   int64
	CompileError    string
}
