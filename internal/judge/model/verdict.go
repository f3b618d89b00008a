package model

// Verdict classifies a judged submission or a single case outcome.
type Verdict string

const (
	VerdictPending             Verdict = "PENDING"
	VerdictAccepted            Verdict = "ACCEPTED"
	VerdictWrongAnswer         Verdict = "WRONG_ANSWER"
	VerdictRuntimeError        Verdict = "RUNTIME_ERROR"
	VerdictTimeLimitExceeded   Verdict = "TIME_LIMIT_EXCEEDED"
	VerdictMemoryLimitExceeded Verdict = "MEMORY_LIMIT_EXCEEDED"
	VerdictCompilationError    Verdict = "COMPILATION_ERROR"
	VerdictInternalError       Verdict = "INTERNAL_ERROR"
)

// verdictSeverity orders verdicts from least to most severe.
// The aggregated submission verdict is the most severe case verdict seen.
var verdictSeverity = map[Verdict]int{
	VerdictAccepted:            0,
	VerdictWrongAnswer:         1,
	VerdictRuntimeError:        2,
	VerdictTimeLimitExceeded:   3,
	VerdictMemoryLimitExceeded: 4,
	VerdictCompilationError:    5,
	VerdictInternalError:       6,
}

// Severity returns the severity rank of a terminal verdict.
// VerdictPending ranks below every terminal verdict.
func (v Verdict) Severity() int {
	if rank, ok := verdictSeverity[v]; ok {
		return rank
	}
	return -1
}

// IsTerminal reports whether the verdict is a final classification.
func (v Verdict) IsTerminal() bool {
	_, ok := verdictSeverity[v]
	return ok
}

// MoreSevere returns the more severe of two verdicts.
func MoreSevere(a, b Verdict) Verdict {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}
