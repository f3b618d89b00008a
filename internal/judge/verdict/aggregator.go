// Package verdict reduces per-case outcomes into a submission verdict.
package verdict

import (
	"gavel/internal/judge/model"
	"gavel/internal/judge/runner"
)

// Accumulator folds case outcomes in case order. The submission verdict is
// the most severe case verdict; compilation and internal errors short-circuit
// further case execution.
type Accumulator struct {
	summary model.JudgeSummary
	count   int
	halted  bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{summary: model.JudgeSummary{Verdict: model.VerdictAccepted}}
}

// Add folds one case outcome into the summary.
func (a *Accumulator) Add(outcome runner.Outcome) {
	if a.halted {
		// Adding cases after the short-circuit point never changes the verdict.
		return
	}
	a.count++
	a.summary.Verdict = model.MoreSevere(a.summary.Verdict, outcome.Verdict)
	a.summary.TotalPoints += outcome.PointsAwarded
	if outcome.ExecutionTimeMS > a.summary.ExecutionTimeMS {
		a.summary.ExecutionTimeMS = outcome.ExecutionTimeMS
	}
	if outcome.MemoryUsedKB > a.summary.MemoryUsageKB {
		a.summary.MemoryUsageKB = outcome.MemoryUsedKB
	}
	if outcome.Verdict == model.VerdictCompilationError && a.summary.CompileError == "" {
		a.summary.CompileError = outcome.CompileLog
	}
	if outcome.Verdict == model.VerdictCompilationError || outcome.Verdict == model.VerdictInternalError {
		a.halted = true
	}
}

// ShortCircuit reports whether no further cases should be attempted.
func (a *Accumulator) ShortCircuit() bool {
	return a.halted
}

// Count returns how many outcomes were folded in.
func (a *Accumulator) Count() int {
	return a.count
}

// Summary returns the aggregate. With no cases added the verdict is ACCEPTED
// with zero points; callers should reject empty manifests before judging.
func (a *Accumulator) Summary() model.JudgeSummary {
	return a.summary
}

// Aggregate folds a complete outcome sequence in one call.
func Aggregate(outcomes []runner.Outcome) model.JudgeSummary {
	acc := NewAccumulator()
	for _, outcome := range outcomes {
		acc.Add(outcome)
	}
	return acc.Summary()
}
