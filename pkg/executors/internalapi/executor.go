// Package internalapi provides the CALL_INTERNAL_API step executor.
package internalapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
)

type Executor struct {
	caller protocol.InternalAPICaller
}

func NewExecutor(caller protocol.InternalAPICaller) *Executor {
	return &Executor{caller: caller}
}

func (e *Executor) Type() models.StepType { return models.StepTypeCallInternalAPI }

func (e *Executor) Name() string { return "Call internal API" }

func (e *Executor) Description() string {
	return "Calls an endpoint of the platform API; non-2xx responses are retried"
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method": map[string]any{
				"type": "string",
				"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"endpoint": map[string]any{
				"type":        "string",
				"description": "Path relative to the internal API base URL",
				"examples":    []string{"/investors/{{payload.investorId}}/kyc"},
			},
			"body": map[string]any{
				"description": "Request body, sent as JSON",
			},
		},
		"required": []string{"method", "endpoint"},
	}
}

func (e *Executor) Execute(ctx context.Context, input protocol.StepInput) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.CallInternalAPIConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanentf("unexpected config %T", input.Config)
	}

	if e.caller == nil {
		return protocol.StepResult{}, protocol.Permanent(errors.New("no internal API caller configured"))
	}

	method := strings.ToUpper(cfg.Method)

	resp, err := e.caller.Call(ctx, method, cfg.Endpoint, cfg.Body)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("%s %s: %w", method, cfg.Endpoint, err)
	}

	err = protocol.CheckStatus(resp)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("%s %s: %w", method, cfg.Endpoint, err)
	}

	return protocol.StepResult{
		Output: map[string]any{
			"status": resp.Status,
			"body":   resp.Body,
		},
	}, nil
}
