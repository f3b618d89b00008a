package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
)

// RemoteConfig holds settings for the HTTP sandbox adapter.
type RemoteConfig struct {
	// BaseURL is the sandbox service root, e.g. "http://sandbox:8090".
	BaseURL string `yaml:"baseURL"`

	// RequestTimeout bounds one execute call end to end. It must exceed the
	// largest per-case time limit plus compile time.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// RemoteExecutor calls an external sandbox service over HTTP.
type RemoteExecutor struct {
	baseURL string
	client  *http.Client
}

// NewRemoteExecutor creates an HTTP-backed sandbox adapter.
func NewRemoteExecutor(cfg RemoteConfig) (*RemoteExecutor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sandbox baseURL is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteExecutor{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type remoteRequest struct {
	Source        string         `json:"source"`
	Language      model.Language `json:"language"`
	Stdin         []byte         `json:"stdin"`
	TimeLimitMS   int            `json:"time_limit_ms"`
	MemoryLimitMB int            `json:"memory_limit_mb"`
}

type remoteCompile struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Log      string `json:"log"`
}

type remoteResponse struct {
	Compile      *remoteCompile `json:"compile,omitempty"`
	Stdout       []byte         `json:"stdout"`
	Stderr       []byte         `json:"stderr"`
	ExitCode     int            `json:"exit_code"`
	WallTimeMS   int64          `json:"wall_time_ms"`
	PeakMemoryKB int64          `json:"peak_memory_kb"`
	Termination  Termination    `json:"termination"`
}

// Execute sends one run request to the sandbox service.
func (e *RemoteExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(remoteRequest{
		Source:        req.Source,
		Language:      req.Language,
		Stdin:         req.Stdin,
		TimeLimitMS:   req.TimeLimitMS,
		MemoryLimitMB: req.MemoryLimitMB,
	})
	if err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SandboxInternal, "encode sandbox request failed")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SandboxInternal, "build sandbox request failed")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SandboxInternal, "call sandbox failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, appErr.Newf(appErr.SandboxInternal, "sandbox returned %d: %s", resp.StatusCode, string(payload))
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SandboxInternal, "decode sandbox response failed")
	}

	result := Result{
		Stdout:       decoded.Stdout,
		Stderr:       decoded.Stderr,
		ExitCode:     decoded.ExitCode,
		WallTimeMS:   decoded.WallTimeMS,
		PeakMemoryKB: decoded.PeakMemoryKB,
		Termination:  decoded.Termination,
	}
	if decoded.Compile != nil {
		result.Compile = &CompileResult{
			OK:       decoded.Compile.OK,
			ExitCode: decoded.Compile.ExitCode,
			Log:      decoded.Compile.Log,
		}
	}
	if result.Termination == "" {
		result.Termination = TerminationInternal
	}
	return result, nil
}
