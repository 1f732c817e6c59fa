// Package dto defines request and response shapes for API v1.
package dto

// ErrorInfo is the per-entity error shape embedded in analysis responses.
// The top-level error envelope is rendered by the error middleware.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// SuccessResponse is a generic success response.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
