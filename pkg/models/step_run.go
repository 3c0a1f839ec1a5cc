package models

import "time"

// StepRunStatus is the state of a single step attempt.
type StepRunStatus string

const (
	StepRunStatusPending   StepRunStatus = "PENDING"
	StepRunStatusRunning   StepRunStatus = "RUNNING"
	StepRunStatusWaiting   StepRunStatus = "WAITING"
	StepRunStatusCompleted StepRunStatus = "COMPLETED"
	StepRunStatusFailed    StepRunStatus = "FAILED"
	StepRunStatusCancelled StepRunStatus = "CANCELLED"
	StepRunStatusSkipped   StepRunStatus = "SKIPPED"
)

// IsTerminal reports whether the attempt has reached a final state.
func (s StepRunStatus) IsTerminal() bool {
	switch s {
	case StepRunStatusCompleted, StepRunStatusFailed, StepRunStatusCancelled, StepRunStatusSkipped:
		return true
	default:
		return false
	}
}

// WorkflowStepRun records one attempt of one step. Rows are append-only: a retry
// writes a new row with the next attempt number.
type WorkflowStepRun struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	StepKey       string         `json:"step_key"`
	StepType      StepType       `json:"step_type"`
	Status        StepRunStatus  `json:"status"`
	AttemptNumber int            `json:"attempt_number"`
	InputData     map[string]any `json:"input_data,omitempty"`
	OutputData    map[string]any `json:"output_data,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ErrorStack    string         `json:"error_stack,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// Finish stamps the attempt with a terminal or waiting status.
func (s *WorkflowStepRun) Finish(status StepRunStatus, at time.Time) {
	s.Status = status

	if status.IsTerminal() {
		finished := at
		s.FinishedAt = &finished
	}
}
