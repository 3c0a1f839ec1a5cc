// Package setvariable provides the SET_VARIABLE step executor.
package setvariable

import (
	"context"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
)

type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Type() models.StepType { return models.StepTypeSetVariable }

func (e *Executor) Name() string { return "Set variable" }

func (e *Executor) Description() string {
	return "Assigns a resolved value to a run context variable"
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variableName": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"valueExpression": map[string]any{
				"description": "Literal value or template; a single {{path}} keeps the value type",
				"examples":    []any{true, "{{payload.amount}}", "Welcome {{payload.name}}"},
			},
		},
		"required": []string{"variableName", "valueExpression"},
	}
}

// Execute writes the already-resolved value into the run context.
func (e *Executor) Execute(_ context.Context, input protocol.StepInput) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.SetVariableConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanentf("unexpected config %T", input.Config)
	}

	return protocol.StepResult{
		Output: map[string]any{
			"variableName": cfg.VariableName,
			"value":        cfg.ValueExpression,
		},
		ContextUpdates: map[string]any{cfg.VariableName: cfg.ValueExpression},
	}, nil
}
