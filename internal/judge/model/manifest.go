package model

// CaseType distinguishes sample cases from hidden grader cases.
type CaseType string

const (
	CaseSample CaseType = "SAMPLE"
	CaseHidden CaseType = "HIDDEN"
)

// Case is one grader case obtained from the catalog. The engine reads it by
// value and treats it as immutable for the duration of a judge run.
type Case struct {
	CaseID         string
	Input          []byte
	ExpectedOutput []byte
	Points         int
	Type           CaseType
	TimeLimitMS    int
	MemoryLimitMB  int
}

// CaseManifest is the ordered set of cases for a problem.
type CaseManifest []Case

// MaxPoints sums the attainable points across all cases.
func (m CaseManifest) MaxPoints() int {
	total := 0
	for _, c := range m {
		total += c.Points
	}
	return total
}
