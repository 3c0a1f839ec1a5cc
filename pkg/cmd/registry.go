// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/collaborators"
	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/dukex/opsflow/pkg/registry"
)

// CollaboratorConfig configures the services the step executors call.
type CollaboratorConfig struct {
	InternalAPIBaseURL string
	InternalAPIHeaders map[string]string
	HTTPTimeout        time.Duration
}

// NewRegistry registers the executors of every step type, backed by the default
// collaborators. Emails are published on bus; a nil bus makes SEND_EMAIL steps
// fail permanently.
func NewRegistry(logger *slog.Logger, clk clock.Clock, bus eventbus.EventPublisher, cfg CollaboratorConfig) (*registry.Registry, error) {
	var internalAPI protocol.InternalAPICaller = collaborators.DisabledInternalAPI{}

	if cfg.InternalAPIBaseURL != "" {
		caller, err := collaborators.NewInternalAPICaller(logger, cfg.InternalAPIBaseURL, cfg.InternalAPIHeaders, cfg.HTTPTimeout)
		if err != nil {
			return nil, err
		}

		internalAPI = caller
	} else {
		logger.Warn("No internal API base URL configured, INTERNAL_API steps will fail")
	}

	reg := registry.NewRegistry(logger)

	err := reg.RegisterDefaults(registry.Collaborators{
		Email:       collaborators.NewEventEmailSender(logger, bus),
		InternalAPI: internalAPI,
		Webhook:     collaborators.NewWebhookCaller(logger, cfg.HTTPTimeout),
		Logger:      collaborators.NewSlogStepLogger(logger),
	}, clk)
	if err != nil {
		return nil, err
	}

	return reg, nil
}
