package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/application/standalone"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWait bounds how long GET /runs/:id/result blocks when asked to wait.
const maxWait = 5 * time.Minute

// SubmitRunRequest represents a run submission request
type SubmitRunRequest struct {
	Workflow *domain.Workflow `json:"workflow" binding:"required"`
	Inputs   map[string]any   `json:"inputs"`
	Targets  []string         `json:"targets"`
	UseCache bool             `json:"use_cache"`
}

// SubmitRunResponse represents a run submission response
type SubmitRunResponse struct {
	RunID       string           `json:"run_id"`
	ParentRunID string           `json:"parent_run_id,omitempty"`
	Status      domain.RunStatus `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// RerunRequest selects the nodes a re-run recomputes
type RerunRequest struct {
	Targets []string `json:"targets"`
}

// ExecutePluginRequest runs a single plugin
type ExecutePluginRequest struct {
	Mode     string         `json:"mode"`
	Inputs   map[string]any `json:"inputs"`
	Config   map[string]any `json:"config"`
	UseCache bool           `json:"use_cache"`
	// Iterations above one benchmark the plugin.
	Iterations int `json:"iterations"`
}

// RunSummary is the list form of a run
type RunSummary struct {
	RunID       string           `json:"run_id"`
	ParentRunID string           `json:"parent_run_id,omitempty"`
	WorkflowID  string           `json:"workflow_id"`
	Status      domain.RunStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// handleHealth reports the worker pool health
func (s *Server) handleHealth(c *gin.Context) {
	pool := s.health.GetStatus()

	status, code := "healthy", http.StatusOK
	if !pool.Healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"workers":     pool,
			"active_runs": s.manager.ActiveRuns(),
		},
	})
}

func (s *Server) handleListTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"types": s.types.Types(),
		"rules": s.types.Rules(),
	})
}

func (s *Server) handleListPlugins(c *gin.Context) {
	list := s.plugins.ListMetadata()
	c.JSON(http.StatusOK, gin.H{
		"plugins": list,
		"total":   len(list),
	})
}

func (s *Server) handleGetPlugin(c *gin.Context) {
	meta, err := s.plugins.Metadata(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// handleValidateWorkflow answers whether a workflow would be accepted. An
// invalid workflow is a successful answer, not a failed request.
func (s *Server) handleValidateWorkflow(c *gin.Context) {
	var wf domain.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		s.badRequest(c, err)
		return
	}

	g, err := s.manager.Validator().Validate(&wf)
	if err != nil {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":       false,
			"workflow_id": wf.ID,
			"violations":  verr.Violations,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"workflow_id": g.ID(),
		"begin":       g.Begin(),
		"nodes":       g.IDs(),
		"loops":       g.Loops(),
	})
}

// handleSubmitRun validates a workflow and starts a run
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	runID, err := s.manager.SubmitWorkflow(c.Request.Context(), req.Workflow, orchestrator.SubmitOptions{
		Inputs:   req.Inputs,
		Targets:  req.Targets,
		UseCache: req.UseCache,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.created(c, runID)
}

// handleListRuns lists runs, optionally filtered by ?status=
func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.manager.ListRuns(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	filter := domain.RunStatus(c.Query("status"))
	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		if filter != "" && r.Status != filter {
			continue
		}
		summaries = append(summaries, summarize(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  summaries,
		"total": len(summaries),
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	state, err := s.manager.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleGetResult returns the node results of a finished run. With
// ?wait=<duration> it blocks until the run finishes or the duration passes.
func (s *Server) handleGetResult(c *gin.Context) {
	runID := c.Param("id")

	var (
		state *domain.RunState
		err   error
	)
	if wait := c.Query("wait"); wait != "" {
		d, perr := time.ParseDuration(wait)
		if perr != nil || d <= 0 {
			s.badRequest(c, errors.New("wait must be a positive duration"))
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), min(d, maxWait))
		state, err = s.manager.Wait(ctx, runID)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			state, err = s.manager.GetStatus(c.Request.Context(), runID)
		}
	} else {
		state, err = s.manager.GetStatus(c.Request.Context(), runID)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	if !state.Status.Terminal() {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_COMPLETED",
				Message: "run has not finished",
				Details: gin.H{"status": state.Status},
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       state.RunID,
		"status":       state.Status,
		"error":        state.Error,
		"result":       state.Result,
		"completed_at": state.CompletedAt,
	})
}

// handleCancelRun requests cancellation; the run finishes asynchronously
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.manager.CancelExecution(c.Request.Context(), runID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":       runID,
		"status":       "cancelling",
		"requested_at": time.Now().UTC(),
	})
}

// handleRerun re-executes a finished run for the given targets
func (s *Server) handleRerun(c *gin.Context) {
	var req RerunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}

	parent := c.Param("id")
	runID, err := s.manager.Rerun(c.Request.Context(), parent, req.Targets)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.created(c, runID)
}

// handleExecutePlugin runs one plugin directly or inside a minimal workflow
func (s *Server) handleExecutePlugin(c *gin.Context) {
	var req ExecutePluginRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}

	pluginID := c.Param("id")
	if _, err := s.plugins.Metadata(pluginID); err != nil {
		s.writeError(c, err)
		return
	}
	mode, err := standalone.ParseMode(req.Mode)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	sreq := standalone.Request{
		PluginID: pluginID,
		Mode:     mode,
		Inputs:   req.Inputs,
		Config:   req.Config,
		UseCache: req.UseCache,
	}

	if req.Iterations > 1 {
		bench, err := s.runner.Benchmark(c.Request.Context(), sreq, req.Iterations)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, bench)
		return
	}

	res, err := s.runner.Execute(c.Request.Context(), sreq)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": ErrorDetail{
				Code:    "EXECUTION_FAILED",
				Message: err.Error(),
			},
			"result": res,
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) created(c *gin.Context, runID string) {
	resp := SubmitRunResponse{RunID: runID, Status: domain.RunStatusSubmitted}
	if state, err := s.manager.GetStatus(c.Request.Context(), runID); err == nil {
		resp.ParentRunID = state.ParentRunID
		resp.SubmittedAt = state.SubmittedAt
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// writeError maps engine errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: ErrorDetail{Code: code, Message: err.Error()}}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Error.Details = verr.Violations
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	_ = c.Error(err)
	c.JSON(status, resp)
}

func errorStatus(err error) (int, string) {
	var (
		verr     *domain.ValidationError
		cfgErr   *domain.ConfigError
		notFound *domain.PluginNotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound, "RUN_NOT_FOUND"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "PLUGIN_NOT_FOUND"
	case errors.Is(err, orchestrator.ErrRunFinished):
		return http.StatusConflict, "RUN_FINISHED"
	case errors.Is(err, orchestrator.ErrRunNotFinished):
		return http.StatusConflict, "RUN_NOT_FINISHED"
	case errors.Is(err, orchestrator.ErrManagerClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "REQUEST_ABORTED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func summarize(r *domain.RunState) RunSummary {
	sum := RunSummary{
		RunID:       r.RunID,
		ParentRunID: r.ParentRunID,
		Status:      r.Status,
		Error:       r.Error,
		SubmittedAt: r.SubmittedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Workflow != nil {
		sum.WorkflowID = r.Workflow.ID
	}
	return sum
}
