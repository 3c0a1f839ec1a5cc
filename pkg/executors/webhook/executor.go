// Package webhook provides the CALL_WEBHOOK step executor.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
)

type Executor struct {
	caller protocol.WebhookCaller
}

func NewExecutor(caller protocol.WebhookCaller) *Executor {
	return &Executor{caller: caller}
}

func (e *Executor) Type() models.StepType { return models.StepTypeCallWebhook }

func (e *Executor) Name() string { return "Call webhook" }

func (e *Executor) Description() string {
	return "Calls an arbitrary URL; non-2xx responses are retried"
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":     "string",
				"examples": []string{"https://hooks.partner.example/investors", "{{payload.callbackUrl}}"},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "HTTP headers. Values support {{path}} templates.",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body, sent as JSON",
			},
		},
		"required": []string{"url", "method"},
	}
}

func (e *Executor) Execute(ctx context.Context, input protocol.StepInput) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.CallWebhookConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanentf("unexpected config %T", input.Config)
	}

	if e.caller == nil {
		return protocol.StepResult{}, protocol.Permanent(errors.New("no webhook caller configured"))
	}

	method := strings.ToUpper(cfg.Method)

	resp, err := e.caller.Call(ctx, cfg.URL, method, cfg.Headers, cfg.Body)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("%s %s: %w", method, cfg.URL, err)
	}

	err = protocol.CheckStatus(resp)
	if err != nil {
		return protocol.StepResult{}, fmt.Errorf("%s %s: %w", method, cfg.URL, err)
	}

	return protocol.StepResult{
		Output: map[string]any{
			"status": resp.Status,
			"body":   resp.Body,
		},
	}, nil
}
