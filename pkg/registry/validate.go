package registry

import (
	"errors"
	"fmt"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidDefinition wraps every problem found by Validate.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

var definitionValidator = validator.New()

// StepError is a validation problem attached to one step.
type StepError struct {
	StepKey string
	Reason  string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %s", e.StepKey, e.Reason)
}

// Validate checks a definition before it is saved or seeded: required fields,
// unique step keys, registered step types, config schemas and transitions that
// point at existing steps. All problems are reported together.
func (r *Registry) Validate(definition *models.WorkflowDefinition) error {
	problems := make([]error, 0)

	err := definitionValidator.Struct(definition)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				problems = append(problems, fmt.Errorf("field %s failed %q", fieldErr.Namespace(), fieldErr.Tag()))
			}
		} else {
			problems = append(problems, err)
		}
	}

	if len(definition.Steps) == 0 {
		problems = append(problems, errors.New("definition has no steps"))
	}

	keys := make(map[string]bool, len(definition.Steps))

	for _, step := range definition.Steps {
		if step == nil {
			problems = append(problems, errors.New("nil step"))

			continue
		}

		if keys[step.Key] {
			problems = append(problems, &StepError{StepKey: step.Key, Reason: "duplicate step key"})
		}

		keys[step.Key] = true
	}

	for _, step := range definition.Steps {
		if step == nil {
			continue
		}

		problems = append(problems, r.validateStep(step, keys)...)
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("%w %s: %w", ErrInvalidDefinition, definition.ID, errors.Join(problems...))
}

func (r *Registry) validateStep(step *models.StepDefinition, keys map[string]bool) []error {
	problems := make([]error, 0)

	if !step.Type.IsValid() {
		return append(problems, &StepError{StepKey: step.Key, Reason: fmt.Sprintf("unknown step type %q", step.Type)})
	}

	err := r.ValidateConfig(step.Type, step.Config)
	if err != nil {
		problems = append(problems, &StepError{StepKey: step.Key, Reason: err.Error()})
	}

	if step.Type == models.StepTypeConditional {
		if step.NextStepKey != "" {
			problems = append(problems, &StepError{StepKey: step.Key, Reason: "CONDITIONAL steps use on_true_step_key and on_false_step_key"})
		}
	} else if step.OnTrueStepKey != "" || step.OnFalseStepKey != "" {
		problems = append(problems, &StepError{StepKey: step.Key, Reason: "only CONDITIONAL steps may branch"})
	}

	for _, next := range step.Transitions() {
		if next == step.Key {
			problems = append(problems, &StepError{StepKey: step.Key, Reason: "step transitions to itself"})
		} else if !keys[next] {
			problems = append(problems, &StepError{StepKey: step.Key, Reason: fmt.Sprintf("transition to unknown step %q", next)})
		}
	}

	return problems
}
