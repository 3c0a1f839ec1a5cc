package models

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusWaiting   RunStatus = "WAITING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// RunStatuses lists every run status, in lifecycle order.
var RunStatuses = []RunStatus{
	RunStatusPending,
	RunStatusRunning,
	RunStatusWaiting,
	RunStatusCompleted,
	RunStatusFailed,
	RunStatusCancelled,
}

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// IsValid reports whether s is a known run status.
func (s RunStatus) IsValid() bool {
	for _, known := range RunStatuses {
		if s == known {
			return true
		}
	}

	return false
}

// ContextPayloadKey is the context key holding the trigger payload.
const ContextPayloadKey = "payload"

// ContextStepsKey is the context key holding per-step outputs.
const ContextStepsKey = "steps"

// WorkflowRun is one execution of a workflow definition for one trigger occurrence.
// FinishedAt is set exactly when Status is terminal.
type WorkflowRun struct {
	ID               string         `json:"id"`
	WorkflowID       string         `json:"workflow_id"`
	TriggerEventName string         `json:"trigger_event_name"`
	TriggerPayload   map[string]any `json:"trigger_payload"`
	Context          map[string]any `json:"context"`
	Status           RunStatus      `json:"status"`
	CurrentStepKey   string         `json:"current_step_key"`
	CancelRequested  bool           `json:"cancel_requested"`
	Version          int            `json:"version"`
	ResumeAt         *time.Time     `json:"resume_at,omitempty"`
	HeartbeatAt      time.Time      `json:"heartbeat_at"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

// IsTerminal reports whether the run has finished.
func (r *WorkflowRun) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Finish moves the run into a terminal status and stamps FinishedAt.
func (r *WorkflowRun) Finish(status RunStatus, at time.Time, errorMessage string) {
	finished := at

	r.Status = status
	r.FinishedAt = &finished
	r.ResumeAt = nil
	r.ErrorMessage = errorMessage
}

// Clone returns a copy whose context map can be mutated without touching r.
func (r *WorkflowRun) Clone() *WorkflowRun {
	clone := *r
	clone.Context = CloneMap(r.Context)

	if r.ResumeAt != nil {
		resumeAt := *r.ResumeAt
		clone.ResumeAt = &resumeAt
	}

	if r.FinishedAt != nil {
		finishedAt := *r.FinishedAt
		clone.FinishedAt = &finishedAt
	}

	return &clone
}

// RunHandle identifies a run created by a dispatch.
type RunHandle struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
}

// CloneMap deep-copies nested maps and slices of a context value.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = cloneValue(value)
	}

	return dst
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}
