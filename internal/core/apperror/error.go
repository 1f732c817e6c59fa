// Package apperror provides the structured error taxonomy for the sync engine.
// All errors that can cross the API boundary must be AppError values so the
// HTTP layer can render a consistent envelope.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes grouped by taxonomy class.
const (
	// Validation (400)
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidTimestamp       = "INVALID_TIMESTAMP"
	CodeInvalidSessionID       = "INVALID_SESSION_ID"
	CodeInvalidQueryParameters = "INVALID_QUERY_PARAMETERS"

	// Not found (404)
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeEntityNotFound   = "ENTITY_NOT_FOUND"
	CodeAnalysisNotFound = "ANALYSIS_NOT_FOUND"
	CodeLogFilesNotFound = "LOG_FILES_NOT_FOUND"

	// Authorization (403)
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeLogAccessDenied  = "LOG_ACCESS_DENIED"

	// Transient (500/504, retryable)
	CodeDatabaseConnection  = "DATABASE_CONNECTION_ERROR"
	CodeAnalysisTimeout     = "ANALYSIS_TIMEOUT"
	CodeLogRetrievalTimeout = "LOG_RETRIEVAL_TIMEOUT"

	// Resource (507, retryable after reducing volume)
	CodeLogProcessing = "LOG_PROCESSING_ERROR"

	// Generic (500)
	CodeLogRetrievalFailed = "LOG_RETRIEVAL_FAILED"
	CodeInternal           = "INTERNAL_ERROR"

	// Concurrency (409)
	CodeSyncInProgress = "SYNC_IN_PROGRESS"

	// Capacity (503, retryable)
	CodeQueueFull = "QUEUE_FULL"
)

// AppError is the standard error type for the engine.
// It implements the error interface and carries everything the API layer
// needs to render the error envelope.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (violated fields, ids, limits)
	Details map[string]any `json:"details,omitempty"`

	// Timestamp records when the error was created
	Timestamp time.Time `json:"timestamp"`

	// Retryable tells the caller whether resubmitting may succeed
	Retryable bool `json:"retryable"`

	// Suggestions are remediation hints for the caller
	Suggestions []string `json:"suggestions,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (never exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// WithSuggestion appends a remediation hint
func (e *AppError) WithSuggestion(s string) *AppError {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

func newError(code, message string, status int, retryable bool) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Retryable:  retryable,
		Timestamp:  time.Now().UTC(),
	}
}

// --- Factory functions, one per taxonomy entry ---

// NewValidation creates a generic validation error (400)
func NewValidation(message string) *AppError {
	return newError(CodeValidation, message, http.StatusBadRequest, false)
}

// NewInvalidTimestamp is returned when sinceTimestamp matches none of the
// accepted forms.
func NewInvalidTimestamp(value string) *AppError {
	return newError(CodeInvalidTimestamp, "sinceTimestamp is not a recognized timestamp", http.StatusBadRequest, false).
		WithDetail("value", value).
		WithDetail("acceptedFormats", []string{"2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05", "2006-01-02"}).
		WithSuggestion("provide the baseline as an RFC 3339 timestamp, e.g. 2025-10-25T12:00:00Z")
}

// NewInvalidSessionID is returned for malformed session identifiers.
func NewInvalidSessionID(sessionID string) *AppError {
	return newError(CodeInvalidSessionID, "session id is malformed", http.StatusBadRequest, false).
		WithDetail("sessionId", sessionID).
		WithSuggestion("session ids contain only letters, digits, '-' and '_' (8-64 characters)")
}

// NewInvalidQueryParameters lists every violated parameter in details.
func NewInvalidQueryParameters(violations []string) *AppError {
	return newError(CodeInvalidQueryParameters, "one or more query parameters are out of range", http.StatusBadRequest, false).
		WithDetail("violations", violations)
}

// NewSessionNotFound is returned for well-formed but unknown sessions (404).
func NewSessionNotFound(sessionID string) *AppError {
	return newError(CodeSessionNotFound, "no logs recorded for this session", http.StatusNotFound, false).
		WithDetail("sessionId", sessionID).
		WithSuggestion("verify the session id against the analysisId returned when the run was submitted").
		WithSuggestion("sessions appear here only after the first log entry is written; retry once the run has started")
}

// NewEntityNotFound is returned when an entity type is not registered (404).
func NewEntityNotFound(entityType string) *AppError {
	return newError(CodeEntityNotFound, fmt.Sprintf("entity type %q is not registered", entityType), http.StatusNotFound, false).
		WithDetail("entityType", entityType)
}

// NewAnalysisNotFound is returned by the status endpoint for an unknown
// analysis id (404).
func NewAnalysisNotFound(analysisID string) *AppError {
	return newError(CodeAnalysisNotFound, "no analysis found with this id", http.StatusNotFound, false).
		WithDetail("analysisId", analysisID).
		WithSuggestion("use the analysisId returned when the run was submitted")
}

// NewLogFilesNotFound is returned when the on-disk log location is missing (404).
func NewLogFilesNotFound(sessionID string) *AppError {
	return newError(CodeLogFilesNotFound, "no log files found for this session", http.StatusNotFound, false).
		WithDetail("sessionId", sessionID)
}

// NewPermissionDenied creates an authorization error (403).
func NewPermissionDenied(message string) *AppError {
	return newError(CodePermissionDenied, message, http.StatusForbidden, false)
}

// NewLogAccessDenied guards the log endpoints (403).
func NewLogAccessDenied() *AppError {
	return newError(CodeLogAccessDenied, "access to migration logs denied", http.StatusForbidden, false).
		WithSuggestion("supply a valid bearer token in the Authorization header")
}

// NewDatabaseConnection wraps datastore connectivity failures (500, retryable).
func NewDatabaseConnection(err error) *AppError {
	return newError(CodeDatabaseConnection, "datastore is unreachable", http.StatusInternalServerError, true).
		WithCause(err).
		WithSuggestion("retry after the datastore is reachable again")
}

// NewAnalysisTimeout is returned when a detection query exceeds its deadline
// (504, retryable).
func NewAnalysisTimeout(entityType string, timeout time.Duration) *AppError {
	return newError(CodeAnalysisTimeout, "analysis query exceeded its deadline", http.StatusGatewayTimeout, true).
		WithDetail("entityType", entityType).
		WithDetail("timeoutMs", timeout.Milliseconds()).
		WithSuggestion("resubmit with a narrower scope: fewer entities, a later baseline, or a smaller batch size")
}

// NewLogRetrievalTimeout is returned when assembling logs exceeds the deadline
// (504, retryable).
func NewLogRetrievalTimeout(sessionID string) *AppError {
	return newError(CodeLogRetrievalTimeout, "log retrieval exceeded its deadline", http.StatusGatewayTimeout, true).
		WithDetail("sessionId", sessionID).
		WithSuggestion("narrow the time window or lower the limit")
}

// NewLogProcessing is returned when the requested log volume cannot be
// assembled (507, retryable after reducing volume).
func NewLogProcessing(sessionID string, requested int) *AppError {
	return newError(CodeLogProcessing, "requested log volume exceeds processing capacity", http.StatusInsufficientStorage, true).
		WithDetail("sessionId", sessionID).
		WithDetail("requested", requested).
		WithSuggestion("reduce the requested volume with level/time filters or a lower limit")
}

// NewLogRetrievalFailed wraps unclassified log retrieval failures (500, retryable).
func NewLogRetrievalFailed(err error) *AppError {
	return newError(CodeLogRetrievalFailed, "log retrieval failed", http.StatusInternalServerError, true).
		WithCause(err)
}

// NewSyncInProgress rejects a second submission for an active (session, entity)
// key (409, retryable once the active run finishes).
func NewSyncInProgress(sessionID, entityType string) *AppError {
	return newError(CodeSyncInProgress, "a run is already active for this session and entity", http.StatusConflict, true).
		WithDetail("sessionId", sessionID).
		WithDetail("entityType", entityType).
		WithSuggestion("wait for the active run to complete, then resubmit")
}

// NewQueueFull rejects a submission when the analysis backlog is at capacity
// (503, retryable once queued runs drain).
func NewQueueFull(capacity int) *AppError {
	return newError(CodeQueueFull, "analysis queue is at capacity", http.StatusServiceUnavailable, true).
		WithDetail("queueCapacity", capacity).
		WithSuggestion("retry after queued analyses drain")
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return newError(CodeInternal, "internal server error", http.StatusInternalServerError, false).
		WithCause(err)
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether the error is classified as retryable.
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return false
}

// IsCode checks the taxonomy code of an error.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
