// Package conditional provides the CONDITIONAL step executor, which compares a
// context field against a value and selects the true or false transition.
package conditional

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/dukex/opsflow/pkg/template"
)

// Executor evaluates CONDITIONAL steps.
type Executor struct{}

// NewExecutor creates a CONDITIONAL executor.
func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Type() models.StepType { return models.StepTypeConditional }

func (e *Executor) Name() string { return "Conditional" }

func (e *Executor) Description() string {
	return "Compares a context field against a value and branches to the on-true or on-false step"
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "Dot path into the run context",
				"examples":    []string{"payload.status", "steps.kyc.status"},
			},
			"operator": map[string]any{
				"type": "string",
				"enum": []string{
					string(models.OperatorEquals),
					string(models.OperatorNotEquals),
					string(models.OperatorContains),
					string(models.OperatorGreaterThan),
					string(models.OperatorLessThan),
					string(models.OperatorExists),
					string(models.OperatorNotExists),
				},
			},
			"value": map[string]any{
				"description": "Comparison operand, ignored by exists and not_exists",
			},
		},
		"required": []string{"field", "operator"},
	}
}

// Execute evaluates the condition. Numeric comparisons against non-numeric
// operands fail permanently instead of yielding false.
func (e *Executor) Execute(_ context.Context, input protocol.StepInput) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.ConditionalConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanentf("unexpected config %T", input.Config)
	}

	actual, found := template.Lookup(cfg.Field, input.Context)

	result, err := Evaluate(cfg.Operator, actual, found, cfg.Value)
	if err != nil {
		return protocol.StepResult{}, protocol.Permanent(fmt.Errorf("field %q: %w", cfg.Field, err))
	}

	return protocol.StepResult{
		Output: map[string]any{"result": result},
		Branch: &result,
	}, nil
}

// Evaluate applies operator to the looked-up field value.
func Evaluate(operator models.Operator, actual any, found bool, expected any) (bool, error) {
	switch operator {
	case models.OperatorExists:
		return found, nil
	case models.OperatorNotExists:
		return !found, nil
	case models.OperatorEquals:
		return found && equal(actual, expected), nil
	case models.OperatorNotEquals:
		return !found || !equal(actual, expected), nil
	case models.OperatorContains:
		return found && contains(actual, expected), nil
	case models.OperatorGreaterThan, models.OperatorLessThan:
		left, ok := toFloat(actual)
		if !ok {
			return false, fmt.Errorf("%s requires a numeric field, got %s", operator, describe(actual, found))
		}

		right, ok := toFloat(expected)
		if !ok {
			return false, fmt.Errorf("%s requires a numeric value, got %s", operator, describe(expected, expected != nil))
		}

		if operator == models.OperatorGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func equal(actual, expected any) bool {
	left, leftNumeric := toFloat(actual)
	right, rightNumeric := toFloat(expected)

	if leftNumeric && rightNumeric {
		return left == right
	}

	if reflect.DeepEqual(actual, expected) {
		return true
	}

	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, fmt.Sprint(expected))
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == fmt.Sprint(expected) {
				return true
			}
		}

		return false
	case map[string]any:
		_, ok := v[fmt.Sprint(expected)]

		return ok
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func describe(value any, found bool) string {
	if !found {
		return "a missing value"
	}

	return fmt.Sprintf("%T %v", value, value)
}
