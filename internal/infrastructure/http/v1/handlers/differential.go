package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"deltasync/internal/core/appctx"
	"deltasync/internal/core/apperror"
	"deltasync/internal/domain/detection"
	"deltasync/internal/domain/migrationlog"
	"deltasync/internal/domain/scheduler"
	"deltasync/internal/infrastructure/http/v1/dto"
)

// DifferentialHandler serves the differential analysis endpoints.
type DifferentialHandler struct {
	*BaseHandler
	scheduler *scheduler.Scheduler
}

// NewDifferentialHandler creates the analysis handler.
func NewDifferentialHandler(sched *scheduler.Scheduler) *DifferentialHandler {
	return &DifferentialHandler{
		BaseHandler: NewBaseHandler(),
		scheduler:   sched,
	}
}

// Analyze handles POST /api/migration/differential.
// Small requests complete synchronously (200); explicit async or wide
// requests are queued (202).
func (h *DifferentialHandler) Analyze(c *gin.Context) {
	var req dto.DifferentialRequest
	if !h.BindJSON(c, &req) {
		return
	}

	baseline, err := detection.ParseBaseline(req.SinceTimestamp)
	if err != nil {
		h.Error(c, err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "session-" + uuid.NewString()
	}
	if err := migrationlog.ValidateSessionID(sessionID); err != nil {
		h.Error(c, err)
		return
	}

	ctx := appctx.WithSession(c.Request.Context(), &appctx.SessionContext{
		SessionID: sessionID,
		Subject:   h.GetSubject(c),
	})

	job, err := h.scheduler.Submit(ctx, scheduler.Request{
		SessionID: sessionID,
		Entities:  req.Entities,
		Baseline:  baseline,
		Options: detection.Options{
			IncludeDeletes:       req.IncludeDeletes,
			EnableContentHashing: req.EnableContentHashing,
			BatchSize:            req.BatchSize,
		},
		ChangeThreshold: req.ChangeThreshold,
		Async:           req.Async,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	if job.Result == nil {
		// The ack always reads processing; the status endpoint reports the
		// precise lifecycle state.
		h.Accepted(c, dto.QueuedResponse{
			AnalysisID:              job.AnalysisID,
			SessionID:               job.SessionID,
			Status:                  string(scheduler.StatusProcessing),
			SubmittedAt:             job.SubmittedAt,
			EstimatedCompletionTime: scheduler.EstimateCompletionTime(len(req.Entities)),
			CheckStatusURL:          fmt.Sprintf("/api/migration/differential/%s/status", job.AnalysisID),
		})
		return
	}

	h.OK(c, jobToResponse(job))
}

// Status handles GET /api/migration/differential/:analysisId/status.
func (h *DifferentialHandler) Status(c *gin.Context) {
	job, err := h.scheduler.Status(c.Param("analysisId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.StatusResponse{
		AnalysisID:  job.AnalysisID,
		SessionID:   job.SessionID,
		Status:      string(job.Status),
		SubmittedAt: job.SubmittedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.Result != nil {
		resp.Response = jobToResponse(job)
	}
	h.OK(c, resp)
}

// Queue handles GET /api/migration/differential/queue.
func (h *DifferentialHandler) Queue(c *gin.Context) {
	stats := h.scheduler.Stats()
	h.OK(c, dto.QueueResponse{
		Depth:         stats.Depth,
		ActiveRuns:    stats.ActiveRuns,
		CompletedJobs: stats.CompletedJobs,
		AverageWaitMs: stats.AverageWaitMs,
	})
}

func jobToResponse(job scheduler.Job) *dto.DifferentialResponse {
	results := make([]dto.EntityAnalysis, 0, len(job.Result.Entities))
	recommendations := make([]string, 0)
	seen := make(map[string]struct{})
	for _, entity := range job.Result.Entities {
		slot := dto.EntityAnalysis{
			EntityType: entity.EntityType,
			Status:     string(entity.Status),
			Result:     entity.Result,
		}
		if entity.Err != nil {
			slot.Error = errorInfo(entity.Err)
		}
		results = append(results, slot)

		if entity.Result == nil {
			continue
		}
		for _, rec := range entity.Result.Recommendations {
			if _, dup := seen[rec]; dup {
				continue
			}
			seen[rec] = struct{}{}
			recommendations = append(recommendations, rec)
		}
	}

	timestamp := job.SubmittedAt
	if job.CompletedAt != nil {
		timestamp = *job.CompletedAt
	}

	return &dto.DifferentialResponse{
		AnalysisID:        job.AnalysisID,
		SessionID:         job.SessionID,
		Status:            string(job.Status),
		Timestamp:         timestamp,
		BaselineTimestamp: job.Baseline,
		EntityResults:     results,
		OverallSummary:    job.Result.OverallSummary,
		Recommendations:   recommendations,
		SubmittedAt:       job.SubmittedAt,
		CompletedAt:       job.CompletedAt,
	}
}

func errorInfo(err error) *dto.ErrorInfo {
	if appErr, ok := apperror.AsAppError(err); ok {
		return &dto.ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}
	return &dto.ErrorInfo{
		Code:    apperror.CodeInternal,
		Message: err.Error(),
	}
}
