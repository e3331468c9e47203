package http

import (
	"github.com/fyrsmithlabs/excelmind/internal/orchestrator"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

// CreateTaskRequest is the request body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Prompt string          `json:"prompt"`
	Files  []workbook.File `json:"files"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// TasksResponse is the response body for GET /api/v1/tasks.
type TasksResponse struct {
	Running []string `json:"running"`
}

// CancelResponse is the response body for DELETE /api/v1/tasks/:id.
type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// ToolsResponse is the response body for GET /api/v1/tools.
type ToolsResponse struct {
	Tools []tools.Definition `json:"tools"`
}

// LogsResponse is the response body for GET /api/v1/logs.
type LogsResponse struct {
	Entries []orchestrator.LogEntry `json:"entries"`
}
