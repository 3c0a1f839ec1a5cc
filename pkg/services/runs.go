package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
)

// ErrRunFinished is returned when cancelling a run that already ended.
var ErrRunFinished = workflow.ErrRunFinished

// Dispatcher starts runs for a named event.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventName string, payload map[string]any) ([]models.RunHandle, error)
}

// RunController changes the state of existing runs.
type RunController interface {
	Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error)
	Resume(ctx context.Context, runID string) (bool, error)
}

type Runs struct {
	persistence persistence.Persistence
	dispatcher  Dispatcher
	controller  RunController
	validate    *validator.Validate
}

func NewRuns(persistence persistence.Persistence, dispatcher Dispatcher, controller RunController) *Runs {
	return &Runs{
		persistence: persistence,
		dispatcher:  dispatcher,
		controller:  controller,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (r *Runs) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := r.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListRunsRequest contains options for listing runs.
type ListRunsRequest struct {
	Limit  int `validate:"min=0,max=500"`
	Offset int `validate:"min=0"`

	WorkflowID string
	Status     string
	From       *time.Time
	To         *time.Time
}

// ListRuns returns run history newest first.
func (r *Runs) ListRuns(ctx context.Context, req ListRunsRequest) (*persistence.ListRunsResult, error) {
	opts, err := r.listOptions(req)
	if err != nil {
		return nil, err
	}

	result, err := r.persistence.RunRepository().List(ctx, opts)
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidListOptions) {
			return nil, NewValidationError("ListRuns", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
		}

		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return result, nil
}

func (r *Runs) listOptions(req ListRunsRequest) (persistence.ListRunsOptions, error) {
	err := r.validate.Struct(req)
	if err != nil {
		return persistence.ListRunsOptions{}, NewValidationError("ListRuns", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	status := models.RunStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status != "" && !status.IsValid() {
		return persistence.ListRunsOptions{}, NewValidationError(
			"ListRuns",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status '%s'", req.Status),
			ErrInvalidStatus,
		)
	}

	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return persistence.ListRunsOptions{}, NewValidationError(
			"ListRuns",
			"INVALID_DATE_RANGE",
			"from must not be after to",
			ErrInvalidDateRange,
		)
	}

	return persistence.ListRunsOptions{
		WorkflowID: strings.TrimSpace(req.WorkflowID),
		Status:     status,
		From:       req.From,
		To:         req.To,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}, nil
}

func (r *Runs) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return r.persistence.RunRepository().GetByID(ctx, runID)
}

// Timeline returns every attempt of a run in start order.
func (r *Runs) Timeline(ctx context.Context, runID string) ([]*models.WorkflowStepRun, error) {
	_, err := r.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	return r.persistence.StepRunRepository().ListByRun(ctx, runID)
}

// Dispatch starts one run per active definition subscribed to eventName.
func (r *Runs) Dispatch(ctx context.Context, eventName string, payload map[string]any) ([]models.RunHandle, error) {
	eventName = strings.TrimSpace(eventName)
	if eventName == "" {
		return nil, NewValidationError("Dispatch", "EVENT_NAME_REQUIRED", events.ErrEventNameRequired.Error(), ErrInvalidRequest)
	}

	if payload == nil {
		payload = map[string]any{}
	}

	return r.dispatcher.Dispatch(ctx, eventName, payload)
}

func (r *Runs) Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return r.controller.Cancel(ctx, runID)
}

// Resume continues a WAITING run that is due. It reports false when there was
// nothing to resume. The run is driven outside ctx, so a caller going away
// does not interrupt the step in flight.
func (r *Runs) Resume(ctx context.Context, runID string) (bool, error) {
	return r.controller.Resume(context.WithoutCancel(ctx), runID)
}
