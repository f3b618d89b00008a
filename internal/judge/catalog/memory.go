package catalog

import (
	"context"
	"sync"

	"gavel/internal/judge/model"
)

// MemoryCatalog is an in-memory Catalog for tests and development mode.
type MemoryCatalog struct {
	mu        sync.RWMutex
	problems  map[string]ProblemInfo
	manifests map[string]model.CaseManifest
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		problems:  make(map[string]ProblemInfo),
		manifests: make(map[string]model.CaseManifest),
	}
}

// AddProblem registers a problem and its cases.
func (c *MemoryCatalog) AddProblem(info ProblemInfo, manifest model.CaseManifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.problems[info.ProblemID] = info
	c.manifests[info.ProblemID] = manifest
}

func (c *MemoryCatalog) GetProblem(ctx context.Context, problemID string) (*ProblemInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.problems[problemID]
	if !ok {
		return nil, ErrProblemNotFound
	}
	clone := info
	return &clone, nil
}

func (c *MemoryCatalog) GetCases(ctx context.Context, problemID string) (model.CaseManifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.problems[problemID]; !ok {
		return nil, ErrProblemNotFound
	}
	manifest := c.manifests[problemID]
	if len(manifest) == 0 {
		return nil, ErrManifestEmpty
	}
	return append(model.CaseManifest(nil), manifest...), nil
}
