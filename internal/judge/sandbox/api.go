// Package sandbox defines the contract the engine requires from the opaque
// code execution backend. The backend must enforce the limits itself; the
// engine only interprets the reported termination reason.
package sandbox

import (
	"context"

	"gavel/internal/judge/model"
)

// Termination is the sandbox-reported reason execution ended.
type Termination string

const (
	TerminationNormal         Termination = "NORMAL"
	TerminationTimeout        Termination = "TIMEOUT"
	TerminationMemoryExceeded Termination = "MEMORY_EXCEEDED"
	TerminationSignal         Termination = "SIGNAL"
	TerminationInternal       Termination = "INTERNAL"
)

// Request contains everything needed to execute one program against one input.
type Request struct {
	Source   string
	Language model.Language
	Stdin    []byte

	TimeLimitMS   int
	MemoryLimitMB int
}

// CompileResult reports the compile phase for languages that have one.
// Nil in Result means no compile phase was run.
type CompileResult struct {
	OK       bool
	ExitCode int
	Log      string
}

// Result is the raw sandbox outcome for one execution.
type Result struct {
	Compile *CompileResult

	Stdout       []byte
	Stderr       []byte
	ExitCode     int
	WallTimeMS   int64
	PeakMemoryKB int64
	Termination  Termination
}

// Executor runs code under resource limits. Implementations must be safe for
// concurrent use; a returned error means the sandbox itself could not be
// reached, not that the program misbehaved.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}
