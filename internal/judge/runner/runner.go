// Package runner implements the deterministic per-case grading step: execute
// one (code, input) pair under limits via the sandbox, compare against the
// expected output and classify the outcome.
package runner

import (
	"context"
	"errors"
	"strings"

	"gavel/internal/judge/model"
	"gavel/internal/judge/sandbox"
)

// DefaultExcerptLimit bounds stored stdout/stderr excerpts.
const DefaultExcerptLimit = 64 * 1024

// Outcome is the classified result of running one grader case.
type Outcome struct {
	CaseID          string
	Verdict         model.Verdict
	PointsAwarded   int
	ExecutionTimeMS int64
	MemoryUsedKB    int64
	OutputExcerpt   string
	StderrExcerpt   string
	ExitCode        int
	CompileLog      string
	Feedback        string
}

// CaseResult converts the outcome into the persisted case result record.
func (o Outcome) CaseResult() model.CaseResult {
	return model.CaseResult{
		CaseID:          o.CaseID,
		Verdict:         o.Verdict,
		PointsAwarded:   o.PointsAwarded,
		ExecutionTimeMS: o.ExecutionTimeMS,
		MemoryUsedKB:    o.MemoryUsedKB,
		OutputExcerpt:   o.OutputExcerpt,
		StderrExcerpt:   o.StderrExcerpt,
		ExitCode:        o.ExitCode,
		Feedback:        o.Feedback,
	}
}

// CaseRunner grades single cases. It is pure with respect to its inputs and
// performs no I/O beyond invoking the sandbox.
type CaseRunner struct {
	exec         sandbox.Executor
	excerptLimit int
}

// NewCaseRunner creates a case runner with the default excerpt limit.
func NewCaseRunner(exec sandbox.Executor) *CaseRunner {
	return NewCaseRunnerWithLimit(exec, DefaultExcerptLimit)
}

// NewCaseRunnerWithLimit creates a case runner with a custom excerpt limit.
func NewCaseRunnerWithLimit(exec sandbox.Executor, excerptLimit int) *CaseRunner {
	if excerptLimit <= 0 {
		excerptLimit = DefaultExcerptLimit
	}
	return &CaseRunner{exec: exec, excerptLimit: excerptLimit}
}

// Run executes source against one case and classifies the result.
//
// Sandbox-reported failures (including internal ones) are folded into the
// outcome verdict so the caller can aggregate them; an error is returned only
// when the surrounding context was cancelled.
func (r *CaseRunner) Run(ctx context.Context, source string, language model.Language, c model.Case) (Outcome, error) {
	outcome := Outcome{CaseID: c.CaseID}

	res, err := r.exec.Execute(ctx, sandbox.Request{
		Source:        source,
		Language:      language,
		Stdin:         c.Input,
		TimeLimitMS:   c.TimeLimitMS,
		MemoryLimitMB: c.MemoryLimitMB,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return outcome, err
		}
		outcome.Verdict = model.VerdictInternalError
		outcome.Feedback = "sandbox unavailable: " + err.Error()
		return outcome, nil
	}

	outcome.ExecutionTimeMS = res.WallTimeMS
	outcome.MemoryUsedKB = res.PeakMemoryKB
	outcome.ExitCode = res.ExitCode
	outcome.OutputExcerpt = r.truncate(res.Stdout)
	outcome.StderrExcerpt = r.truncate(res.Stderr)

	// Classification rules, first match wins.
	switch {
	case res.Termination == sandbox.TerminationInternal:
		outcome.Verdict = model.VerdictInternalError
	case language.RequiresCompile() && res.Compile != nil && !res.Compile.OK:
		outcome.Verdict = model.VerdictCompilationError
		outcome.CompileLog = r.truncate([]byte(res.Compile.Log))
	case res.Termination == sandbox.TerminationTimeout:
		outcome.Verdict = model.VerdictTimeLimitExceeded
	case res.Termination == sandbox.TerminationMemoryExceeded:
		outcome.Verdict = model.VerdictMemoryLimitExceeded
	case res.Termination == sandbox.TerminationSignal || res.ExitCode != 0:
		outcome.Verdict = model.VerdictRuntimeError
	case OutputMatches(res.Stdout, c.ExpectedOutput):
		outcome.Verdict = model.VerdictAccepted
		outcome.PointsAwarded = c.Points
	default:
		outcome.Verdict = model.VerdictWrongAnswer
	}
	return outcome, nil
}

// OutputMatches compares produced and expected output byte-wise after
// trimming trailing whitespace from each line and stripping a single
// trailing newline from both sides.
func OutputMatches(got, want []byte) bool {
	return normalizeOutput(got) == normalizeOutput(want)
}

func normalizeOutput(b []byte) string {
	lines := strings.Split(string(b), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	normalized := strings.Join(lines, "\n")
	return strings.TrimSuffix(normalized, "\n")
}

func (r *CaseRunner) truncate(b []byte) string {
	if len(b) <= r.excerptLimit {
		return string(b)
	}
	return string(b[:r.excerptLimit])
}
