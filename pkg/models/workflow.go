// Package models defines the core domain models for event-triggered workflow execution.
package models

import "time"

// StepType identifies the kind of work a step performs.
type StepType string

const (
	StepTypeSendEmail       StepType = "SEND_EMAIL"
	StepTypeCallInternalAPI StepType = "CALL_INTERNAL_API"
	StepTypeCallWebhook     StepType = "CALL_WEBHOOK"
	StepTypeDelay           StepType = "DELAY"
	StepTypeConditional     StepType = "CONDITIONAL"
	StepTypeSetVariable     StepType = "SET_VARIABLE"
	StepTypeLog             StepType = "LOG"
)

// StepTypes lists every step type the engine knows how to execute.
var StepTypes = []StepType{
	StepTypeSendEmail,
	StepTypeCallInternalAPI,
	StepTypeCallWebhook,
	StepTypeDelay,
	StepTypeConditional,
	StepTypeSetVariable,
	StepTypeLog,
}

// IsValid reports whether t is one of the known step types.
func (t StepType) IsValid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}

	return false
}

// WorkflowDefinition is a workflow subscribed to a trigger event. It is authored
// elsewhere and is read-only to the engine.
type WorkflowDefinition struct {
	ID               string            `json:"id"                 yaml:"id"                 validate:"required"`
	Name             string            `json:"name"               yaml:"name"`
	Description      string            `json:"description"        yaml:"description"`
	TriggerEventName string            `json:"trigger_event_name" yaml:"trigger_event_name" validate:"required"`
	Active           bool              `json:"active"             yaml:"active"`
	Steps            []*StepDefinition `json:"steps"              yaml:"steps"              validate:"dive"`
	CreatedAt        time.Time         `json:"created_at"         yaml:"created_at,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"         yaml:"updated_at,omitempty"`
}

// StepDefinition is one unit of work inside a workflow definition.
type StepDefinition struct {
	Key            string         `json:"key"                        yaml:"key"                        validate:"required"`
	Name           string         `json:"name,omitempty"             yaml:"name,omitempty"`
	Type           StepType       `json:"type"                       yaml:"type"                       validate:"required"`
	Config         map[string]any `json:"config"                     yaml:"config"`
	RetryCount     int            `json:"retry_count"                yaml:"retry_count"                validate:"min=0"`
	TimeoutSeconds int            `json:"timeout_seconds"            yaml:"timeout_seconds"            validate:"gt=0"`
	NextStepKey    string         `json:"next_step_key,omitempty"    yaml:"next_step_key,omitempty"`
	OnTrueStepKey  string         `json:"on_true_step_key,omitempty" yaml:"on_true_step_key,omitempty"`
	OnFalseStepKey string         `json:"on_false_step_key,omitempty" yaml:"on_false_step_key,omitempty"`
	OutputVariable string         `json:"output_variable,omitempty"  yaml:"output_variable,omitempty"`
}

// Timeout returns the per-attempt deadline of the step.
func (s *StepDefinition) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// NextKey returns the transition taken after the step. branch is only consulted
// for CONDITIONAL steps. An empty key means the run completes.
func (s *StepDefinition) NextKey(branch bool) string {
	if s.Type == StepTypeConditional {
		if branch {
			return s.OnTrueStepKey
		}

		return s.OnFalseStepKey
	}

	return s.NextStepKey
}

// Transitions returns every non-empty step key this step may move to.
func (s *StepDefinition) Transitions() []string {
	keys := make([]string, 0, 2)

	for _, key := range []string{s.NextStepKey, s.OnTrueStepKey, s.OnFalseStepKey} {
		if key != "" {
			keys = append(keys, key)
		}
	}

	return keys
}

// FirstStep returns the entry step of the definition, or nil when it has no steps.
func (d *WorkflowDefinition) FirstStep() *StepDefinition {
	if len(d.Steps) == 0 {
		return nil
	}

	return d.Steps[0]
}

// Step finds a step by key.
func (d *WorkflowDefinition) Step(key string) (*StepDefinition, bool) {
	for _, step := range d.Steps {
		if step.Key == key {
			return step, true
		}
	}

	return nil, false
}
