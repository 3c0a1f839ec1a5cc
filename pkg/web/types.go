package web

import "github.com/dukex/opsflow/pkg/models"

// DispatchResponse lists the runs started for an event.
type DispatchResponse struct {
	Runs   []models.RunHandle `json:"runs"`
	Errors []string           `json:"errors,omitempty"`
}

// ListRunsResponse is one page of run history.
type ListRunsResponse struct {
	Runs        []*models.WorkflowRun `json:"runs"`
	TotalCount  int                   `json:"total_count"`
	HasNextPage bool                  `json:"has_next_page"`
	Pagination  Pagination            `json:"pagination"`
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// TimelineResponse lists the attempts of a run in start order.
type TimelineResponse struct {
	RunID string                    `json:"run_id"`
	Steps []*models.WorkflowStepRun `json:"steps"`
}

type ResumeResponse struct {
	RunID   string `json:"run_id"`
	Resumed bool   `json:"resumed"`
}
