// Package controller exposes the engine's HTTP surface: submission intake,
// submission reads, rejudge, ad-hoc execution and queue stats.
package controller

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/service"
	"gavel/pkg/utils/contextkey"
	"gavel/pkg/utils/response"
)

const requestTimeout = 30 * time.Second

// JudgeController handles judge engine HTTP requests.
type JudgeController struct {
	submit  *service.SubmitService
	execute *service.ExecuteService
}

// NewJudgeController creates a controller. execute may be nil when ad-hoc
// execution is disabled.
func NewJudgeController(submit *service.SubmitService, execute *service.ExecuteService) *JudgeController {
	return &JudgeController{submit: submit, execute: execute}
}

// RegisterRoutes mounts the engine API under /api/v1.
func (ctl *JudgeController) RegisterRoutes(router *gin.Engine) {
	router.Use(traceMiddleware())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/submissions", ctl.Submit)
		v1.GET("/submissions/:id", ctl.GetSubmission)
		v1.GET("/submissions", ctl.ListSubmissions)
		v1.POST("/submissions/:id/rejudge", ctl.Rejudge)
		v1.GET("/queue/stats", ctl.QueueStats)
		if ctl.execute != nil {
			v1.POST("/executions", ctl.Execute)
			v1.GET("/executions/:id", ctl.GetExecution)
		}
	}
	router.GET("/healthz", ctl.Health)
}

func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := contextkey.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}

type submitRequest struct {
	ProblemID      string            `json:"problem_id" binding:"required"`
	UserID         string            `json:"user_id" binding:"required"`
	UserRole       string            `json:"user_role"`
	Language       string            `json:"language" binding:"required"`
	SourceCode     string            `json:"source_code" binding:"required"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata"`
}

// Submit accepts a new submission.
func (ctl *JudgeController) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	submission, err := ctl.submit.Submit(ctx, service.SubmitRequest{
		ProblemID:      req.ProblemID,
		UserID:         req.UserID,
		UserRole:       req.UserRole,
		Language:       req.Language,
		SourceCode:     req.SourceCode,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submissionView(submission))
}

// GetSubmission returns one submission with case results.
func (ctl *JudgeController) GetSubmission(c *gin.Context) {
	ctx, cancel := withTimeout(c)
	defer cancel()

	submission, err := ctl.submit.GetSubmission(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	view := submissionView(submission)
	view["case_results"] = caseResultViews(submission.CaseResults)
	response.Success(c, view)
}

// ListSubmissions returns a user's recent submissions.
func (ctl *JudgeController) ListSubmissions(c *gin.Context) {
	ctx, cancel := withTimeout(c)
	defer cancel()

	var query struct {
		UserID string `form:"user_id" binding:"required"`
		Limit  int    `form:"limit,default=50"`
		Offset int    `form:"offset,default=0"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	submissions, err := ctl.submit.ListSubmissions(ctx, query.UserID, query.Limit, query.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]gin.H, 0, len(submissions))
	for _, submission := range submissions {
		views = append(views, submissionView(submission))
	}
	response.Success(c, gin.H{"submissions": views})
}

// Rejudge re-enqueues a terminal submission.
func (ctl *JudgeController) Rejudge(c *gin.Context) {
	ctx, cancel := withTimeout(c)
	defer cancel()

	var req struct {
		UserRole string `json:"user_role"`
	}
	_ = c.ShouldBindJSON(&req)

	submission, err := ctl.submit.Rejudge(ctx, c.Param("id"), req.UserRole)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submissionView(submission))
}

// QueueStats returns the queue health snapshot.
func (ctl *JudgeController) QueueStats(c *gin.Context) {
	ctx, cancel := withTimeout(c)
	defer cancel()

	stats, err := ctl.submit.QueueStats(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, statsView(stats))
}

type executeRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Language      string `json:"language" binding:"required"`
	SourceCode    string `json:"source_code" binding:"required"`
	Stdin         string `json:"stdin"`
	TimeLimitMS   int    `json:"time_limit_ms"`
	MemoryLimitMB int    `json:"memory_limit_mb"`
}

// Execute runs code ad hoc.
func (ctl *JudgeController) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	execution, err := ctl.execute.Execute(ctx, service.ExecuteRequest{
		UserID:        req.UserID,
		Language:      req.Language,
		SourceCode:    req.SourceCode,
		Stdin:         req.Stdin,
		TimeLimitMS:   req.TimeLimitMS,
		MemoryLimitMB: req.MemoryLimitMB,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, executionView(execution))
}

// GetExecution returns one ad-hoc execution.
func (ctl *JudgeController) GetExecution(c *gin.Context) {
	ctx, cancel := withTimeout(c)
	defer cancel()

	execution, err := ctl.execute.GetExecution(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, executionView(execution))
}

// Health reports process liveness.
func (ctl *JudgeController) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

func withTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func submissionView(s *model.Submission) gin.H {
	view := gin.H{
		"submission_id":     s.SubmissionID,
		"problem_id":        s.ProblemID,
		"user_id":           s.UserID,
		"language":          s.Language,
		"status":            s.Status,
		"verdict":           s.Verdict,
		"total_points":      s.TotalPoints,
		"max_points":        s.MaxPoints,
		"execution_time_ms": s.ExecutionTimeMS,
		"memory_usage_kb":   s.MemoryUsageKB,
		"created_at":        s.CreatedAt,
		"updated_at":        s.UpdatedAt,
	}
	if s.CompileError != "" {
		view["compile_error"] = s.CompileError
	}
	if s.JudgedAt != nil {
		view["judged_at"] = s.JudgedAt
	}
	return view
}

func caseResultViews(results []model.CaseResult) []gin.H {
	views := make([]gin.H, 0, len(results))
	for _, cr := range results {
		views = append(views, gin.H{
			"case_id":           cr.CaseID,
			"verdict":           cr.Verdict,
			"points_awarded":    cr.PointsAwarded,
			"execution_time_ms": cr.ExecutionTimeMS,
			"memory_used_kb":    cr.MemoryUsedKB,
			"exit_code":         cr.ExitCode,
			"output_excerpt":    cr.OutputExcerpt,
			"stderr_excerpt":    cr.StderrExcerpt,
			"feedback":          cr.Feedback,
		})
	}
	return views
}

func executionView(e *model.CodeExecution) gin.H {
	return gin.H{
		"execution_id":      e.ExecutionID,
		"user_id":           e.UserID,
		"language":          e.Language,
		"status":            e.Status,
		"stdout":            e.Result.Stdout,
		"stderr":            e.Result.Stderr,
		"exit_code":         e.Result.ExitCode,
		"execution_time_ms": e.Result.ExecutionTimeMS,
		"memory_usage_kb":   e.Result.MemoryUsageKB,
		"termination":       e.Result.Termination,
		"error_message":     e.ErrorMessage,
		"created_at":        e.CreatedAt,
	}
}

func statsView(stats repository.QueueStats) gin.H {
	return gin.H{
		"pending":                stats.Pending,
		"running":                stats.Running,
		"completed":              stats.Completed,
		"failed":                 stats.Failed,
		"active_workers":         stats.ActiveWorkers,
		"oldest_pending_age_sec": int64(stats.OldestPendingAge.Seconds()),
	}
}
