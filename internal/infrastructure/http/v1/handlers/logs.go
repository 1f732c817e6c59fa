package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"deltasync/internal/core/apperror"
	"deltasync/internal/domain/migrationlog"
	"deltasync/internal/infrastructure/http/v1/dto"
	"deltasync/pkg/logger"
)

// LogsHandler serves the migration log endpoints.
type LogsHandler struct {
	*BaseHandler
	service *migrationlog.Service
}

// NewLogsHandler creates the log handler.
func NewLogsHandler(service *migrationlog.Service) *LogsHandler {
	return &LogsHandler{
		BaseHandler: NewBaseHandler(),
		service:     service,
	}
}

// Get handles GET /api/migration/logs/:sessionId.
// Supports paginated JSON (default), rendered text, and downloads with
// optional gzip compression.
func (h *LogsHandler) Get(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var query dto.LogsQuery
	if !h.BindQuery(c, &query) {
		return
	}

	filter, violations := buildFilter(query)
	if len(violations) > 0 {
		h.Error(c, apperror.NewInvalidQueryParameters(violations))
		return
	}

	if query.Download {
		h.download(c, sessionID, filter, query)
		return
	}

	page, err := h.service.GetLogs(c.Request.Context(), sessionID, filter, migrationlog.Page{
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	if query.Format == "text" {
		c.String(http.StatusOK, migrationlog.RenderText(page.Entries))
		return
	}

	h.OK(c, dto.LogsResponse{
		SessionID:  page.SessionID,
		Entries:    page.Entries,
		TotalCount: page.TotalCount,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
}

func (h *LogsHandler) download(c *gin.Context, sessionID string, filter migrationlog.Filter, query dto.LogsQuery) {
	entries, err := h.service.Export(c.Request.Context(), sessionID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	var body []byte
	contentType := "application/json"
	if query.Format == "text" {
		body = []byte(migrationlog.RenderText(entries))
		contentType = "text/plain; charset=utf-8"
	} else {
		body, err = json.Marshal(entries)
		if err != nil {
			h.Error(c, apperror.NewInternal(err))
			return
		}
	}

	filename := migrationlog.ExportFilename(sessionID, query.Format, query.Compress)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))

	if !query.Compress {
		c.Data(http.StatusOK, contentType, body)
		return
	}

	c.Header("Content-Type", "application/gzip")
	c.Status(http.StatusOK)
	gz := gzip.NewWriter(c.Writer)
	if _, err := gz.Write(body); err != nil {
		logger.Error(c.Request.Context(), "gzip download failed", "error", err)
		return
	}
	if err := gz.Close(); err != nil {
		logger.Error(c.Request.Context(), "gzip download failed", "error", err)
	}
}

// buildFilter validates the query and collects every violation so the client
// sees them all at once.
func buildFilter(query dto.LogsQuery) (migrationlog.Filter, []string) {
	var (
		filter     migrationlog.Filter
		violations []string
	)

	if query.Level != "" {
		level, ok := migrationlog.ParseLevel(query.Level)
		if !ok {
			violations = append(violations, fmt.Sprintf("level must be one of debug, info, warn, error; got %q", query.Level))
		} else {
			filter.Level = level
		}
	}

	filter.EntityType = query.EntityType

	if query.StartTime != "" {
		ts, err := time.Parse(time.RFC3339, query.StartTime)
		if err != nil {
			violations = append(violations, fmt.Sprintf("startTime must be RFC3339; got %q", query.StartTime))
		} else {
			filter.StartTime = &ts
		}
	}
	if query.EndTime != "" {
		ts, err := time.Parse(time.RFC3339, query.EndTime)
		if err != nil {
			violations = append(violations, fmt.Sprintf("endTime must be RFC3339; got %q", query.EndTime))
		} else {
			filter.EndTime = &ts
		}
	}
	if filter.StartTime != nil && filter.EndTime != nil && filter.EndTime.Before(*filter.StartTime) {
		violations = append(violations, "endTime must not be before startTime")
	}

	if query.Limit < 1 || query.Limit > migrationlog.MaxPageLimit {
		violations = append(violations, fmt.Sprintf("limit must be between 1 and %d; got %d", migrationlog.MaxPageLimit, query.Limit))
	}
	if query.Offset < 0 {
		violations = append(violations, fmt.Sprintf("offset must be >= 0; got %d", query.Offset))
	}

	switch query.Format {
	case "", "json", "text":
	default:
		violations = append(violations, fmt.Sprintf("format must be json or text; got %q", query.Format))
	}

	return filter, violations
}
