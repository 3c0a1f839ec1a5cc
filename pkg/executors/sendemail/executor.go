// Package sendemail provides the SEND_EMAIL step executor, which delegates
// delivery to an EmailSender.
package sendemail

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
)

type Executor struct {
	sender protocol.EmailSender
}

func NewExecutor(sender protocol.EmailSender) *Executor {
	return &Executor{sender: sender}
}

func (e *Executor) Type() models.StepType { return models.StepTypeSendEmail }

func (e *Executor) Name() string { return "Send email" }

func (e *Executor) Description() string {
	return "Sends a templated email to the resolved recipient"
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"templateKey": map[string]any{
				"type":        "string",
				"description": "Key of the email template",
				"examples":    []string{"investor-welcome", "document-signed"},
			},
			"toExpression": map[string]any{
				"type":        "string",
				"description": "Recipient address, usually a template",
				"examples":    []string{"{{payload.email}}"},
			},
			"variables": map[string]any{
				"type":        "object",
				"description": "Template variables. Values support {{path}} templates.",
			},
		},
		"required": []string{"templateKey", "toExpression"},
	}
}

// Execute sends the email. A sender failure is retryable.
func (e *Executor) Execute(ctx context.Context, input protocol.StepInput) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.SendEmailConfig)
	if !ok {
		return protocol.StepResult{}, protocol.Permanentf("unexpected config %T", input.Config)
	}

	if e.sender == nil {
		return protocol.StepResult{}, protocol.Permanent(errors.New("no email sender configured"))
	}

	messageID, err := e.sender.Send(ctx, cfg.ToExpression, cfg.TemplateKey, cfg.Variables)
	if err != nil {
		return protocol.StepResult{}, protocol.Retryable(fmt.Errorf("failed to send %q email: %w", cfg.TemplateKey, err))
	}

	return protocol.StepResult{
		Output: map[string]any{
			"id":          messageID,
			"to":          cfg.ToExpression,
			"templateKey": cfg.TemplateKey,
		},
	}, nil
}
