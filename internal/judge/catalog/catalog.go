// Package catalog provides read access to the problem catalog: problem
// existence, activation state and grader case manifests. The engine never
// writes catalog data.
package catalog

import (
	"context"
	"errors"

	"gavel/internal/judge/model"
)

var (
	ErrProblemNotFound = errors.New("problem not found")

	// ErrManifestEmpty is returned when a problem has no grader cases;
	// submissions against such problems must be rejected at submit time.
	ErrManifestEmpty = errors.New("problem has no grader cases")
)

// ProblemInfo is the catalog's view of a problem.
type ProblemInfo struct {
	ProblemID     string
	Title         string
	Difficulty    string
	Active        bool
	TimeLimitMS   int
	MemoryLimitMB int
}

// Catalog answers problem lookups for the judge.
type Catalog interface {
	// GetProblem returns catalog info, or ErrProblemNotFound.
	GetProblem(ctx context.Context, problemID string) (*ProblemInfo, error)

	// GetCases returns the ordered case manifest for a problem. Cases with
	// no per-case limits inherit the problem defaults. Returns
	// ErrManifestEmpty for a case-less problem.
	GetCases(ctx context.Context, problemID string) (model.CaseManifest, error)
}
