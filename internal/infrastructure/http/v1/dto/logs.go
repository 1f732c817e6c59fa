package dto

import "deltasync/internal/domain/migrationlog"

// LogsQuery binds the query parameters of GET /api/migration/logs/:sessionId.
// Range validation happens in the handler so every violation is reported at
// once.
type LogsQuery struct {
	Level      string `form:"level"`
	EntityType string `form:"entityType"`
	StartTime  string `form:"startTime"`
	EndTime    string `form:"endTime"`
	Limit      int    `form:"limit,default=100"`
	Offset     int    `form:"offset,default=0"`
	Format     string `form:"format,default=json"`
	Download   bool   `form:"download"`
	Compress   bool   `form:"compress"`
}

// LogsResponse is the JSON body of the log query endpoint.
type LogsResponse struct {
	SessionID  string               `json:"sessionId"`
	Entries    []migrationlog.Entry `json:"entries"`
	TotalCount int                  `json:"totalCount"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
}
