// Package delay provides the DELAY step executor. It never blocks: it computes
// the resume time and asks the runner to suspend the run.
package delay

import (
	"context"
	"time"

	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
)

type Executor struct {
	clock clock.Clock
}

func NewExecutor(c clock.Clock) *Executor {
	return &Executor{clock: c}
}

func (e *Executor) Type() models.StepType { return models.StepTypeDelay }

func (e *Executor) Name() string { return "Delay" }

func (e *Executor) Description() string {
	return "Suspends the run and resumes it once the configured duration has elapsed"
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        []string{"number", "string"},
				"description": "Amount of time to wait, a number or a template resolving to one",
			},
			"unit": map[string]any{
				"type": "string",
				"enum": []string{"seconds", "minutes", "hours", "days"},
			},
		},
		"required": []string{"duration", "unit"},
	}
}

func (e *Executor) Execute(_ context.Context, input protocol.StepInput) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.DelayConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanentf("unexpected config %T", input.Config)
	}

	resumeAt := e.clock.Now().Add(cfg.Interval()).UTC()

	return protocol.StepResult{
		Output: map[string]any{
			"resumeAt": resumeAt.Format(time.RFC3339Nano),
			"duration": float64(cfg.Duration),
			"unit":     string(cfg.Unit),
		},
		ResumeAt: &resumeAt,
	}, nil
}
