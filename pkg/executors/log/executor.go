// Package log provides the LOG step executor.
package log

import (
	"context"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
)

const defaultLevel = "info"

type Executor struct {
	logger protocol.StepLogger
}

func NewExecutor(logger protocol.StepLogger) *Executor {
	return &Executor{logger: logger}
}

func (e *Executor) Type() models.StepType { return models.StepTypeLog }

func (e *Executor) Name() string { return "Log" }

func (e *Executor) Description() string {
	return "Writes a message at the given level (debug, info, warn, error)"
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports {{path}} templates.",
				"examples":    []string{"Investor {{payload.investorId}} onboarded"},
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": defaultLevel,
			},
		},
		"required": []string{"message"},
	}
}

func (e *Executor) Execute(ctx context.Context, input protocol.StepInput) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.LogConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanentf("unexpected config %T", input.Config)
	}

	level := cfg.Level
	if level == "" {
		level = defaultLevel
	}

	e.logger.Log(ctx, level, cfg.Message)

	return protocol.StepResult{
		Output: map[string]any{
			"level":   level,
			"message": cfg.Message,
			"logged":  true,
		},
	}, nil
}
