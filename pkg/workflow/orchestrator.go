package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/otelhelper"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxCancelAttempts = 5

	abandonedAttemptMessage = "attempt abandoned: worker lost"
)

var (
	// ErrRunFinished is returned when cancelling a run that already ended.
	ErrRunFinished = errors.New("run already finished")

	// ErrRunClaimed is returned when another worker advanced the run under us.
	ErrRunClaimed = errors.New("run claimed by another worker")

	// ErrStepNotFound is reported when a transition names a missing step.
	ErrStepNotFound = errors.New("step not found in workflow definition")

	// ErrRetriesExhausted fails a recovered run whose current step already used
	// every attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")

	errCancelRequested = errors.New("cancel requested")
)

// Orchestrator drives runs from creation to a terminal or WAITING state. Every
// transition is written through a version-checked update, so a run is advanced
// by at most one orchestrator at a time.
type Orchestrator struct {
	runs        persistence.RunRepository
	stepRuns    persistence.StepRunRepository
	definitions persistence.DefinitionRepository
	runner      *Runner
	clock       clock.Clock
	delays      DelayIndex
	notifier    notifier
	logger      *slog.Logger
	tracer      trace.Tracer
	heartbeat   time.Duration
}

func NewOrchestrator(logger *slog.Logger, store persistence.Persistence, executors ExecutorSource, opts ...Option) *Orchestrator {
	s := newSettings(opts)
	logger = logger.With("module", "run_orchestrator")

	if s.workerID != "" {
		logger = logger.With("worker_id", s.workerID)
	}

	return &Orchestrator{
		runs:        store.RunRepository(),
		stepRuns:    store.StepRunRepository(),
		definitions: store.DefinitionRepository(),
		runner:      NewRunner(logger, store, executors, opts...),
		clock:       s.clock,
		delays:      s.delays,
		notifier:    notifier{publisher: s.publisher, workerID: s.workerID, logger: logger},
		logger:      logger,
		tracer:      otelhelper.Tracer("opsflow.workflow"),
		heartbeat:   s.heartbeatInterval,
	}
}

// Create persists a PENDING run of definition seeded with payload.
func (o *Orchestrator) Create(ctx context.Context, definition *models.WorkflowDefinition, payload map[string]any) (*models.WorkflowRun, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	now := o.clock.Now()

	run := &models.WorkflowRun{
		ID:               uuid.NewString(),
		WorkflowID:       definition.ID,
		TriggerEventName: definition.TriggerEventName,
		TriggerPayload:   models.CloneMap(payload),
		Context:          map[string]any{models.ContextPayloadKey: models.CloneMap(payload)},
		Status:           models.RunStatusPending,
		HeartbeatAt:      now,
		StartedAt:        now,
	}

	if first := definition.FirstStep(); first != nil {
		run.CurrentStepKey = first.Key
	}

	err := o.runs.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run of workflow %s: %w", definition.ID, err)
	}

	return run, nil
}

// Start creates a run and drives it until it finishes or suspends.
func (o *Orchestrator) Start(ctx context.Context, definition *models.WorkflowDefinition, payload map[string]any) (*models.WorkflowRun, error) {
	run, err := o.Create(ctx, definition, payload)
	if err != nil {
		return nil, err
	}

	return run, o.Execute(ctx, run, definition)
}

// Execute claims a PENDING run and drives it. A run cancelled before the claim
// is left untouched.
func (o *Orchestrator) Execute(ctx context.Context, run *models.WorkflowRun, definition *models.WorkflowDefinition) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run.start",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
		attribute.String(otelhelper.TriggerEventKey, run.TriggerEventName),
	)
	defer span.End()

	run.Status = models.RunStatusRunning

	claimed, err := o.claim(ctx, run)
	if err != nil || !claimed {
		return err
	}

	o.logger.InfoContext(ctx, "Run started", "run_id", run.ID, "workflow_id", run.WorkflowID)
	o.notifier.publish(ctx, run, events.RunStarted{
		BaseEvent:        o.notifier.base(events.RunStartedEvent, run),
		TriggerEventName: run.TriggerEventName,
		FirstStepKey:     run.CurrentStepKey,
	})

	err = o.loop(ctx, run, definition, 1)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// Resume continues a WAITING run whose resume time has passed. It reports false
// without error when the run is not WAITING, not yet due, or was claimed by a
// concurrent resumer.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (bool, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		return false, err
	}

	now := o.clock.Now()

	if run.Status != models.RunStatusWaiting {
		return false, nil
	}

	if run.ResumeAt != nil && run.ResumeAt.After(now) {
		return false, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run.resume",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
	)
	defer span.End()

	run.Status = models.RunStatusRunning
	run.ResumeAt = nil

	claimed, err := o.claim(ctx, run)
	if err != nil || !claimed {
		return false, err
	}

	o.removeDelay(ctx, run.ID)

	waitingKey := run.CurrentStepKey

	err = o.completeWaitingStep(ctx, run.ID, waitingKey)
	if err != nil {
		return true, err
	}

	o.logger.InfoContext(ctx, "Run resumed", "run_id", run.ID, "step_key", waitingKey)
	o.notifier.publish(ctx, run, events.RunResumed{
		BaseEvent: o.notifier.base(events.RunResumedEvent, run),
		StepKey:   waitingKey,
		Reason:    "delay elapsed",
	})

	if run.CancelRequested {
		return true, o.cancelled(ctx, run)
	}

	definition, err := o.definitions.GetByID(ctx, run.WorkflowID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return true, o.fail(ctx, run, err)
		}

		return true, err
	}

	step, ok := definition.Step(waitingKey)
	if !ok {
		return true, o.fail(ctx, run, &protocol.DefinitionError{StepKey: waitingKey, Err: ErrStepNotFound})
	}

	run.CurrentStepKey = step.NextKey(false)

	err = o.persist(ctx, run)
	if err != nil {
		return true, o.handlePersistErr(ctx, run, err)
	}

	err = o.loop(ctx, run, definition, 1)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return true, err
}

// Recover re-claims a run whose worker stopped heartbeating, fails the attempt
// it left behind and re-enters the loop at the current step with a fresh
// attempt.
func (o *Orchestrator) Recover(ctx context.Context, stale *models.WorkflowRun) (bool, error) {
	run := stale.Clone()

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run.recover",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
	)
	defer span.End()

	run.Status = models.RunStatusRunning

	claimed, err := o.claim(ctx, run)
	if err != nil || !claimed {
		return false, err
	}

	point, err := o.abandonAttempts(ctx, run)
	if err != nil {
		return true, err
	}

	o.logger.WarnContext(ctx, "Recovered stale run", "run_id", run.ID, "step_key", run.CurrentStepKey, "attempt", point.attempt)
	o.notifier.publish(ctx, run, events.RunResumed{
		BaseEvent: o.notifier.base(events.RunResumedEvent, run),
		StepKey:   run.CurrentStepKey,
		Reason:    "recovered",
	})

	if run.CancelRequested {
		return true, o.cancelled(ctx, run)
	}

	definition, err := o.definitions.GetByID(ctx, run.WorkflowID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return true, o.fail(ctx, run, err)
		}

		return true, err
	}

	// A lost attempt is always retried once; a reported failure only within
	// the retry budget.
	step, ok := definition.Step(run.CurrentStepKey)
	if ok && !point.lost && point.attempt > step.RetryCount+1 {
		return true, o.fail(ctx, run, fmt.Errorf("%w for step %q: %s", ErrRetriesExhausted, step.Key, point.lastError))
	}

	err = o.loop(ctx, run, definition, point.attempt)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return true, err
}

// Cancel ends a PENDING or WAITING run immediately. A RUNNING run is flagged and
// ends CANCELLED once its current step returns.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	for range maxCancelAttempts {
		run, err := o.runs.GetByID(ctx, runID)
		if err != nil {
			return nil, err
		}

		if run.IsTerminal() {
			return run, ErrRunFinished
		}

		if run.Status == models.RunStatusRunning {
			if run.CancelRequested {
				return run, nil
			}

			run.CancelRequested = true

			err = o.runs.Update(ctx, run)
			if persistence.IsConcurrentUpdate(err) {
				continue
			}

			if err != nil {
				return nil, err
			}

			o.logger.InfoContext(ctx, "Cancellation requested", "run_id", run.ID, "step_key", run.CurrentStepKey)

			return run, nil
		}

		run.CancelRequested = true

		err = o.cancelled(ctx, run)
		if errors.Is(err, ErrRunClaimed) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return run, nil
	}

	return nil, persistence.NewRunError("Cancel", runID, persistence.ErrConcurrentUpdate)
}

// loop runs steps until the run completes, fails, suspends or is cancelled.
// currentStepKey and context are persisted before the next step starts.
func (o *Orchestrator) loop(ctx context.Context, run *models.WorkflowRun, definition *models.WorkflowDefinition, firstAttempt int) error {
	for {
		if run.CancelRequested {
			return o.cancelled(ctx, run)
		}

		if run.CurrentStepKey == "" {
			return o.complete(ctx, run)
		}

		step, ok := definition.Step(run.CurrentStepKey)
		if !ok {
			return o.fail(ctx, run, &protocol.DefinitionError{StepKey: run.CurrentStepKey, Err: ErrStepNotFound})
		}

		stop := o.keepAlive(ctx, run)
		outcome, err := o.runner.RunStep(ctx, run, step, firstAttempt)

		stop()

		if err != nil {
			return err
		}

		firstAttempt = 1

		switch outcome.Kind {
		case OutcomeFail:
			return o.fail(ctx, run, outcome.Err)
		case OutcomeSuspend:
			return o.suspend(ctx, run, step, outcome.ResumeAt)
		case OutcomeCancel:
			return o.reloadAndCancel(ctx, run)
		case OutcomeAdvance:
			run.CurrentStepKey = outcome.NextStepKey
		}

		err = o.persist(ctx, run)
		if err != nil {
			return o.handlePersistErr(ctx, run, err)
		}
	}
}

func (o *Orchestrator) suspend(ctx context.Context, run *models.WorkflowRun, step *models.StepDefinition, resumeAt time.Time) error {
	run.Status = models.RunStatusWaiting
	run.ResumeAt = &resumeAt

	err := o.persist(ctx, run)
	if err != nil {
		return o.handlePersistErr(ctx, run, err)
	}

	if o.delays != nil {
		err = o.delays.Schedule(ctx, run.ID, resumeAt)
		if err != nil {
			o.logger.WarnContext(ctx, "Failed to index delayed run", "run_id", run.ID, "error", err)
		}
	}

	o.logger.InfoContext(ctx, "Run waiting", "run_id", run.ID, "step_key", step.Key, "resume_at", resumeAt)
	o.notifier.publish(ctx, run, events.RunWaiting{
		BaseEvent: o.notifier.base(events.RunWaitingEvent, run),
		StepKey:   step.Key,
		ResumeAt:  resumeAt,
	})

	return nil
}

func (o *Orchestrator) complete(ctx context.Context, run *models.WorkflowRun) error {
	run.Finish(models.RunStatusCompleted, o.clock.Now(), "")

	err := o.persist(ctx, run)
	if err != nil {
		return o.handlePersistErr(ctx, run, err)
	}

	o.logger.InfoContext(ctx, "Run completed", "run_id", run.ID, "workflow_id", run.WorkflowID)
	o.notifier.publish(ctx, run, events.RunCompleted{
		BaseEvent:  o.notifier.base(events.RunCompletedEvent, run),
		DurationMs: o.duration(run),
	})

	return nil
}

func (o *Orchestrator) fail(ctx context.Context, run *models.WorkflowRun, cause error) error {
	stepKey := run.CurrentStepKey

	run.Finish(models.RunStatusFailed, o.clock.Now(), cause.Error())

	err := o.persist(ctx, run)
	if err != nil {
		return o.handlePersistErr(ctx, run, err)
	}

	o.logger.WarnContext(ctx, "Run failed", "run_id", run.ID, "step_key", stepKey, "error", cause)
	o.notifier.publish(ctx, run, events.RunFailed{
		BaseEvent:  o.notifier.base(events.RunFailedEvent, run),
		StepKey:    stepKey,
		Error:      cause.Error(),
		DurationMs: o.duration(run),
	})

	return nil
}

// cancelled ends the run CANCELLED and closes a WAITING step run.
func (o *Orchestrator) cancelled(ctx context.Context, run *models.WorkflowRun) error {
	wasWaiting := run.Status == models.RunStatusWaiting

	run.CancelRequested = true
	run.Finish(models.RunStatusCancelled, o.clock.Now(), "")

	err := o.persist(ctx, run)
	if err != nil {
		if errors.Is(err, errCancelRequested) {
			return fmt.Errorf("%w: %s", ErrRunClaimed, run.ID)
		}

		return err
	}

	if wasWaiting {
		o.removeDelay(ctx, run.ID)
	}

	err = o.closeOpenSteps(ctx, run.ID, models.StepRunStatusCancelled)
	if err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "Run cancelled", "run_id", run.ID, "step_key", run.CurrentStepKey)
	o.notifier.publish(ctx, run, events.RunCancelled{
		BaseEvent: o.notifier.base(events.RunCancelledEvent, run),
		StepKey:   run.CurrentStepKey,
	})

	return nil
}

// reloadAndCancel ends the run CANCELLED from its stored state, dropping the
// context changes made since the last persisted transition.
func (o *Orchestrator) reloadAndCancel(ctx context.Context, run *models.WorkflowRun) error {
	current, err := o.runs.GetByID(ctx, run.ID)
	if err != nil {
		return err
	}

	if current.IsTerminal() {
		return nil
	}

	*run = *current

	return o.cancelled(ctx, run)
}

// claim writes the transition prepared on run. It reports false when another
// writer moved the run first, or when the run has since ended.
func (o *Orchestrator) claim(ctx context.Context, run *models.WorkflowRun) (bool, error) {
	run.HeartbeatAt = o.clock.Now()

	err := o.runs.Update(ctx, run)
	if persistence.IsConcurrentUpdate(err) {
		o.logger.DebugContext(ctx, "Run claimed elsewhere, skipping", "run_id", run.ID)

		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// persist writes run. On a version conflict caused by a cancel request the run
// is reloaded and errCancelRequested returned; any other conflict means the run
// is no longer ours.
func (o *Orchestrator) persist(ctx context.Context, run *models.WorkflowRun) error {
	run.HeartbeatAt = o.clock.Now()

	err := o.runs.Update(ctx, run)
	if err == nil || !persistence.IsConcurrentUpdate(err) {
		return err
	}

	current, getErr := o.runs.GetByID(ctx, run.ID)
	if getErr != nil {
		return getErr
	}

	if current.CancelRequested && !current.IsTerminal() {
		*run = *current

		return errCancelRequested
	}

	return fmt.Errorf("%w: %s", ErrRunClaimed, run.ID)
}

func (o *Orchestrator) handlePersistErr(ctx context.Context, run *models.WorkflowRun, err error) error {
	if errors.Is(err, errCancelRequested) {
		return o.cancelled(ctx, run)
	}

	return err
}

// keepAlive refreshes the heartbeat while a step runs, so the recovery sweep
// does not mistake a long step for a lost worker.
func (o *Orchestrator) keepAlive(ctx context.Context, run *models.WorkflowRun) func() {
	if o.heartbeat <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	runID, version := run.ID, run.Version

	go func() {
		defer close(done)

		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := o.runs.Touch(ctx, runID, version, o.clock.Now())
				if err != nil {
					o.logger.DebugContext(ctx, "Heartbeat stopped", "run_id", runID, "error", err)

					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// completeWaitingStep closes the WAITING step run of a resumed delay.
func (o *Orchestrator) completeWaitingStep(ctx context.Context, runID, stepKey string) error {
	stepRuns, err := o.stepRuns.ListByRun(ctx, runID)
	if err != nil {
		return err
	}

	for _, stepRun := range stepRuns {
		if stepRun.StepKey != stepKey || stepRun.Status != models.StepRunStatusWaiting {
			continue
		}

		stepRun.Finish(models.StepRunStatusCompleted, o.clock.Now())

		err = o.stepRuns.Update(ctx, stepRun)
		if err != nil {
			return err
		}
	}

	return nil
}

// recoveryPoint is where a recovered run continues its current step.
type recoveryPoint struct {
	// attempt is the number of the next attempt, one above every attempt the
	// step already made in its current visit.
	attempt int
	// lost is set when the latest attempt never reported its own result.
	lost bool
	// lastError is the error of the latest attempt.
	lastError string
}

// abandonAttempts fails the attempts a lost worker left open and works out how
// the current step continues. A COMPLETED or WAITING row of the step starts a
// new visit, so earlier attempts no longer count.
func (o *Orchestrator) abandonAttempts(ctx context.Context, run *models.WorkflowRun) (recoveryPoint, error) {
	point := recoveryPoint{attempt: 1}

	stepRuns, err := o.stepRuns.ListByRun(ctx, run.ID)
	if err != nil {
		return point, err
	}

	for _, stepRun := range stepRuns {
		open := !stepRun.Status.IsTerminal() && stepRun.Status != models.StepRunStatusWaiting
		if open {
			stepRun.ErrorMessage = abandonedAttemptMessage
			stepRun.Finish(models.StepRunStatusFailed, o.clock.Now())

			err = o.stepRuns.Update(ctx, stepRun)
			if err != nil {
				return point, err
			}
		}

		if stepRun.StepKey != run.CurrentStepKey {
			continue
		}

		switch stepRun.Status {
		case models.StepRunStatusCompleted, models.StepRunStatusWaiting:
			point = recoveryPoint{attempt: 1}
		default:
			if stepRun.AttemptNumber >= point.attempt {
				point = recoveryPoint{
					attempt:   stepRun.AttemptNumber + 1,
					lost:      open || strings.HasPrefix(stepRun.ErrorMessage, interruptedAttemptPrefix),
					lastError: stepRun.ErrorMessage,
				}
			}
		}
	}

	return point, nil
}

// closeOpenSteps moves every non-terminal step run of a run to status.
func (o *Orchestrator) closeOpenSteps(ctx context.Context, runID string, status models.StepRunStatus) error {
	stepRuns, err := o.stepRuns.ListByRun(ctx, runID)
	if err != nil {
		return err
	}

	for _, stepRun := range stepRuns {
		if stepRun.Status.IsTerminal() {
			continue
		}

		stepRun.Finish(status, o.clock.Now())

		err = o.stepRuns.Update(ctx, stepRun)
		if err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) removeDelay(ctx context.Context, runID string) {
	if o.delays == nil {
		return
	}

	err := o.delays.Remove(ctx, runID)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to remove run from delay index", "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) duration(run *models.WorkflowRun) int64 {
	if run.FinishedAt == nil {
		return 0
	}

	return run.FinishedAt.Sub(run.StartedAt).Milliseconds()
}
