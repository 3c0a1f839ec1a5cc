package registry

import (
	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/executors/conditional"
	"github.com/dukex/opsflow/pkg/executors/delay"
	"github.com/dukex/opsflow/pkg/executors/internalapi"
	logexecutor "github.com/dukex/opsflow/pkg/executors/log"
	"github.com/dukex/opsflow/pkg/executors/sendemail"
	"github.com/dukex/opsflow/pkg/executors/setvariable"
	"github.com/dukex/opsflow/pkg/executors/webhook"
	"github.com/dukex/opsflow/pkg/protocol"
)

// Collaborators are the external services the built-in executors delegate to.
type Collaborators struct {
	Email       protocol.EmailSender
	InternalAPI protocol.InternalAPICaller
	Webhook     protocol.WebhookCaller
	Logger      protocol.StepLogger
}

// RegisterDefaults registers the executors of all seven step types.
func (r *Registry) RegisterDefaults(c Collaborators, clk clock.Clock) error {
	executors := []protocol.StepExecutor{
		sendemail.NewExecutor(c.Email),
		internalapi.NewExecutor(c.InternalAPI),
		webhook.NewExecutor(c.Webhook),
		delay.NewExecutor(clk),
		conditional.NewExecutor(),
		setvariable.NewExecutor(),
		logexecutor.NewExecutor(c.Logger),
	}

	for _, executor := range executors {
		err := r.Register(executor)
		if err != nil {
			return err
		}
	}

	return nil
}
