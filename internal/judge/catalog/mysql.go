package catalog

import (
	"context"
	"encoding/json"
	"time"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/judge/model"
)

const (
	problemCacheTTL       = 10 * time.Minute
	manifestCacheTTL      = 10 * time.Minute
	catalogCacheEmptyTTL  = 2 * time.Minute
	problemCacheKeyPrefix = "catalog:problem:"
	casesCacheKeyPrefix   = "catalog:cases:"
)

// MySQLCatalog reads problems and cases from the catalog tables, with a Redis
// read-through cache. Case manifests are hot during rejudges, cold otherwise.
type MySQLCatalog struct {
	db    db.Database
	cache cache.Cache
}

// NewMySQLCatalog creates a catalog over the given database. cacheClient may
// be nil to disable caching.
func NewMySQLCatalog(database db.Database, cacheClient cache.Cache) *MySQLCatalog {
	return &MySQLCatalog{db: database, cache: cacheClient}
}

// GetProblem returns catalog info for a problem.
func (c *MySQLCatalog) GetProblem(ctx context.Context, problemID string) (*ProblemInfo, error) {
	if c.cache == nil {
		return c.getProblemFromDB(ctx, problemID)
	}
	info, err := cache.GetWithCached[*ProblemInfo](
		ctx,
		c.cache,
		problemCacheKeyPrefix+problemID,
		cache.JitterTTL(problemCacheTTL),
		cache.JitterTTL(catalogCacheEmptyTTL),
		func(info *ProblemInfo) bool { return info == nil },
		marshalJSON[*ProblemInfo],
		unmarshalJSON[*ProblemInfo],
		func(ctx context.Context) (*ProblemInfo, error) {
			info, err := c.getProblemFromDB(ctx, problemID)
			if err != nil {
				if err == ErrProblemNotFound {
					return nil, nil
				}
				return nil, err
			}
			return info, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrProblemNotFound
	}
	return info, nil
}

// GetCases returns the ordered case manifest for a problem.
func (c *MySQLCatalog) GetCases(ctx context.Context, problemID string) (model.CaseManifest, error) {
	info, err := c.GetProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if c.cache == nil {
		return c.getCasesFromDB(ctx, info)
	}
	manifest, err := cache.GetWithCached[model.CaseManifest](
		ctx,
		c.cache,
		casesCacheKeyPrefix+problemID,
		cache.JitterTTL(manifestCacheTTL),
		cache.JitterTTL(catalogCacheEmptyTTL),
		func(m model.CaseManifest) bool { return len(m) == 0 },
		marshalJSON[model.CaseManifest],
		unmarshalJSON[model.CaseManifest],
		func(ctx context.Context) (model.CaseManifest, error) {
			return c.getCasesFromDB(ctx, info)
		},
	)
	if err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, ErrManifestEmpty
	}
	return manifest, nil
}

func (c *MySQLCatalog) getProblemFromDB(ctx context.Context, problemID string) (*ProblemInfo, error) {
	row := c.db.QueryRow(ctx, `
		SELECT problem_id, title, difficulty, active, time_limit_ms, memory_limit_mb
		FROM problems WHERE problem_id = ? LIMIT 1
	`, problemID)

	info := &ProblemInfo{}
	err := row.Scan(
		&info.ProblemID,
		&info.Title,
		&info.Difficulty,
		&info.Active,
		&info.TimeLimitMS,
		&info.MemoryLimitMB,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return info, nil
}

func (c *MySQLCatalog) getCasesFromDB(ctx context.Context, info *ProblemInfo) (model.CaseManifest, error) {
	rows, err := c.db.Query(ctx, `
		SELECT case_id, input, expected_output, points, case_type, time_limit_ms, memory_limit_mb
		FROM problem_cases WHERE problem_id = ? ORDER BY seq ASC
	`, info.ProblemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var manifest model.CaseManifest
	for rows.Next() {
		var (
			c        model.Case
			caseType string
			timeMS   int
			memoryMB int
		)
		if err := rows.Scan(&c.CaseID, &c.Input, &c.ExpectedOutput, &c.Points, &caseType, &timeMS, &memoryMB); err != nil {
			return nil, err
		}
		c.Type = model.CaseType(caseType)
		c.TimeLimitMS = timeMS
		c.MemoryLimitMB = memoryMB
		if c.TimeLimitMS <= 0 {
			c.TimeLimitMS = info.TimeLimitMS
		}
		if c.TimeLimitMS <= 0 {
			c.TimeLimitMS = model.DefaultTimeLimitMS
		}
		if c.MemoryLimitMB <= 0 {
			c.MemoryLimitMB = info.MemoryLimitMB
		}
		if c.MemoryLimitMB <= 0 {
			c.MemoryLimitMB = model.DefaultMemoryMB
		}
		manifest = append(manifest, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, ErrManifestEmpty
	}
	return manifest, nil
}

func marshalJSON[T any](v T) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON[T any](data string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(data), &v)
	return v, err
}
