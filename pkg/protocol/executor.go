// Package protocol defines the contracts between the engine, step executors and
// the external collaborators they delegate to.
package protocol

import (
	"context"
	"time"

	"github.com/dukex/opsflow/pkg/models"
)

// StepExecutor performs the effect of one step type.
type StepExecutor interface {
	// Type returns the step type handled by this executor
	Type() models.StepType

	// Name returns the human-readable name of the step type
	Name() string

	// Description returns a description of what the step does
	Description() string

	// Schema returns the JSON schema of the step config
	Schema() map[string]any

	// Execute runs a single attempt. The context carries the attempt deadline.
	Execute(ctx context.Context, input StepInput) (StepResult, error)
}

// StepInput is the template-resolved input of one attempt.
type StepInput struct {
	RunID   string
	StepKey string
	Attempt int
	Config  models.StepConfig

	// Context is a read-only snapshot of the run context.
	Context map[string]any
}

// StepResult is what an executor returns on success.
type StepResult struct {
	// Output is stored as the step run output data.
	Output map[string]any

	// ResumeAt suspends the run until the given time.
	ResumeAt *time.Time

	// Branch selects the CONDITIONAL transition.
	Branch *bool

	// ContextUpdates are merged into the run context.
	ContextUpdates map[string]any
}

// Suspended reports whether the result asks to suspend the run.
func (r StepResult) Suspended() bool {
	return r.ResumeAt != nil
}

// BranchValue returns the selected branch, false when none was set.
func (r StepResult) BranchValue() bool {
	return r.Branch != nil && *r.Branch
}
