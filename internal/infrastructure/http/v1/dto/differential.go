package dto

import (
	"time"

	"deltasync/internal/domain/detection"
	"deltasync/internal/domain/scheduler"
)

// DifferentialRequest is the body of POST /api/migration/differential.
type DifferentialRequest struct {
	SinceTimestamp       string   `json:"sinceTimestamp" binding:"required"`
	Entities             []string `json:"entities" binding:"required,min=1"`
	SessionID            string   `json:"sessionId"`
	IncludeDeletes       bool     `json:"includeDeletes"`
	EnableContentHashing bool     `json:"enableContentHashing"`
	ChangeThreshold      float64  `json:"changeThreshold"`
	BatchSize            int      `json:"batchSize"`
	Async                bool     `json:"async"`
}

// EntityAnalysis is one entity's slot in the analysis response.
type EntityAnalysis struct {
	EntityType string                     `json:"entityType"`
	Status     string                     `json:"status"`
	Result     *detection.DetectionResult `json:"result,omitempty"`
	Error      *ErrorInfo                 `json:"error,omitempty"`
}

// DifferentialResponse is the completed-analysis response.
type DifferentialResponse struct {
	AnalysisID        string                   `json:"analysisId"`
	SessionID         string                   `json:"sessionId"`
	Status            string                   `json:"status"`
	Timestamp         time.Time                `json:"timestamp"`
	BaselineTimestamp time.Time                `json:"baselineTimestamp"`
	EntityResults     []EntityAnalysis         `json:"entityResults"`
	OverallSummary    scheduler.OverallSummary `json:"overallSummary"`
	Recommendations   []string                 `json:"recommendations"`
	SubmittedAt       time.Time                `json:"submittedAt"`
	CompletedAt       *time.Time               `json:"completedAt,omitempty"`
}

// QueuedResponse acknowledges an asynchronous submission.
type QueuedResponse struct {
	AnalysisID              string    `json:"analysisId"`
	SessionID               string    `json:"sessionId"`
	Status                  string    `json:"status"`
	SubmittedAt             time.Time `json:"submittedAt"`
	EstimatedCompletionTime string    `json:"estimatedCompletionTime"`
	CheckStatusURL          string    `json:"checkStatusUrl"`
}

// StatusResponse is the body of GET /api/migration/differential/:analysisId/status.
type StatusResponse struct {
	AnalysisID  string                `json:"analysisId"`
	SessionID   string                `json:"sessionId"`
	Status      string                `json:"status"`
	SubmittedAt time.Time             `json:"submittedAt"`
	StartedAt   *time.Time            `json:"startedAt,omitempty"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
	Response    *DifferentialResponse `json:"response,omitempty"`
}

// QueueResponse is the body of GET /api/migration/differential/queue.
type QueueResponse struct {
	Depth         int   `json:"depth"`
	ActiveRuns    int   `json:"activeRuns"`
	CompletedJobs int   `json:"completedJobs"`
	AverageWaitMs int64 `json:"averageWaitMs"`
}
