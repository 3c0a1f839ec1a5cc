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
	"github.com/dukex/opsflow/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrStepTimeout is reported when an attempt outlives the step timeout.
	ErrStepTimeout = errors.New("step timed out")

	// ErrInvalidStepPolicy is reported for a step whose timeout is not positive
	// or whose retry count is negative.
	ErrInvalidStepPolicy = errors.New("invalid step policy")
)

const interruptedAttemptPrefix = "attempt interrupted: "

// OutcomeKind is the control decision taken after a step.
type OutcomeKind int

const (
	// OutcomeAdvance moves to NextStepKey, or completes the run when it is empty.
	OutcomeAdvance OutcomeKind = iota
	// OutcomeSuspend parks the run until ResumeAt.
	OutcomeSuspend
	// OutcomeFail fails the run with Err.
	OutcomeFail
	// OutcomeCancel stops the run because a cancel was requested between
	// attempts.
	OutcomeCancel
)

// Outcome is the result of running one step, retries included.
type Outcome struct {
	Kind        OutcomeKind
	NextStepKey string
	ResumeAt    time.Time
	Err         error
	StepRun     *models.WorkflowStepRun
}

// Runner executes one step of a run: it resolves the config, invokes the
// executor under the step timeout, retries transient failures and records each
// attempt as its own step run.
type Runner struct {
	runs      persistence.RunRepository
	stepRuns  persistence.StepRunRepository
	executors ExecutorSource
	clock     clock.Clock
	notifier  notifier
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewRunner(logger *slog.Logger, store persistence.Persistence, executors ExecutorSource, opts ...Option) *Runner {
	s := newSettings(opts)
	logger = logger.With("module", "step_runner")

	return &Runner{
		runs:      store.RunRepository(),
		stepRuns:  store.StepRunRepository(),
		executors: executors,
		clock:     s.clock,
		notifier:  notifier{publisher: s.publisher, workerID: s.workerID, logger: logger},
		logger:    logger,
		tracer:    otelhelper.Tracer("opsflow.workflow"),
	}
}

// RunStep executes step for run starting at attempt firstAttempt. Successful
// steps write their output bindings into run.Context; the caller persists the
// run. Step failures are reported through the Outcome; the returned error is
// reserved for store failures and for ctx being cancelled.
func (r *Runner) RunStep(ctx context.Context, run *models.WorkflowRun, step *models.StepDefinition, firstAttempt int) (Outcome, error) {
	if firstAttempt < 1 {
		firstAttempt = 1
	}

	logger := r.logger.With(
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"step_key", step.Key,
		"step_type", step.Type,
	)

	inputData, executor, config, prepareErr := r.prepare(run, step)

	for attempt := firstAttempt; ; attempt++ {
		stepRun := &models.WorkflowStepRun{
			ID:            uuid.NewString(),
			RunID:         run.ID,
			StepKey:       step.Key,
			StepType:      step.Type,
			Status:        models.StepRunStatusRunning,
			AttemptNumber: attempt,
			InputData:     inputData,
			StartedAt:     r.clock.Now(),
		}

		err := r.stepRuns.Create(ctx, stepRun)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to record attempt %d of step %q: %w", attempt, step.Key, err)
		}

		execErr := prepareErr

		var stepResult protocol.StepResult
		if execErr == nil {
			stepResult, execErr = r.attempt(ctx, executor, step, protocol.StepInput{
				RunID:   run.ID,
				StepKey: step.Key,
				Attempt: attempt,
				Config:  config,
				Context: models.CloneMap(run.Context),
			})
		}

		if execErr == nil {
			return r.succeed(ctx, run, step, stepRun, stepResult)
		}

		if ctx.Err() != nil {
			stepRun.ErrorMessage = interruptedAttemptPrefix + ctx.Err().Error()
			_ = r.finish(context.WithoutCancel(ctx), stepRun, models.StepRunStatusFailed)

			return Outcome{}, ctx.Err()
		}

		willRetry := !protocol.IsPermanent(execErr) && attempt <= step.RetryCount

		stepRun.ErrorMessage = execErr.Error()
		stepRun.ErrorStack = errorChain(execErr)

		err = r.finish(ctx, stepRun, models.StepRunStatusFailed)
		if err != nil {
			return Outcome{}, err
		}

		r.notifier.publish(ctx, run, events.StepFailed{
			BaseEvent: r.notifier.base(events.StepFailedEvent, run),
			StepKey:   step.Key,
			StepType:  step.Type,
			Attempt:   attempt,
			Error:     execErr.Error(),
			WillRetry: willRetry,
		})

		if !willRetry {
			logger.WarnContext(ctx, "Step failed", "attempt", attempt, "error", execErr)

			return Outcome{Kind: OutcomeFail, Err: execErr, StepRun: stepRun}, nil
		}

		cancelRequested, err := r.cancelRequested(ctx, run.ID)
		if err != nil {
			return Outcome{}, err
		}

		if cancelRequested {
			logger.InfoContext(ctx, "Cancel requested, skipping retries", "attempt", attempt)

			return Outcome{Kind: OutcomeCancel, StepRun: stepRun}, nil
		}

		logger.InfoContext(ctx, "Step attempt failed, retrying", "attempt", attempt, "error", execErr)
	}
}

func (r *Runner) cancelRequested(ctx context.Context, runID string) (bool, error) {
	current, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation of run %s: %w", runID, err)
	}

	return current.CancelRequested, nil
}

// prepare checks the step policy, resolves templates, finds the executor and
// decodes the typed config. Any failure is a definition error naming the step.
func (r *Runner) prepare(run *models.WorkflowRun, step *models.StepDefinition) (map[string]any, protocol.StepExecutor, models.StepConfig, error) {
	if step.TimeoutSeconds <= 0 || step.RetryCount < 0 {
		err := fmt.Errorf("%w: timeoutSeconds=%d retryCount=%d", ErrInvalidStepPolicy, step.TimeoutSeconds, step.RetryCount)

		return step.Config, nil, nil, &protocol.DefinitionError{StepKey: step.Key, Err: err}
	}

	resolved, err := template.ResolveConfig(step.Config, run.Context)
	if err != nil {
		return step.Config, nil, nil, &protocol.DefinitionError{StepKey: step.Key, Err: err}
	}

	executor, err := r.executors.Executor(step.Type)
	if err != nil {
		return resolved, nil, nil, &protocol.DefinitionError{StepKey: step.Key, Err: err}
	}

	config, err := models.DecodeStepConfig(step.Type, resolved)
	if err != nil {
		return resolved, nil, nil, &protocol.DefinitionError{StepKey: step.Key, Err: err}
	}

	return resolved, executor, config, nil
}

// attempt runs the executor under the step deadline. An executor that ignores
// its context is abandoned once the deadline passes and its result discarded.
func (r *Runner) attempt(ctx context.Context, executor protocol.StepExecutor, step *models.StepDefinition, input protocol.StepInput) (protocol.StepResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.step",
		attribute.String(otelhelper.RunIDKey, input.RunID),
		attribute.String(otelhelper.StepKeyKey, step.Key),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.Int(otelhelper.StepAttemptKey, input.Attempt),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()

	type reply struct {
		result protocol.StepResult
		err    error
	}

	done := make(chan reply, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("step executor panicked: %v", p)}
			}
		}()

		result, err := executor.Execute(attemptCtx, input)
		done <- reply{result: result, err: err}
	}()

	var out reply

	select {
	case out = <-done:
	case <-attemptCtx.Done():
		out = reply{err: attemptCtx.Err()}
	}

	if out.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		out.err = fmt.Errorf("%w after %s", ErrStepTimeout, step.Timeout())
	}

	if out.err != nil {
		otelhelper.SetError(span, out.err)
	}

	return out.result, out.err
}

func (r *Runner) succeed(ctx context.Context, run *models.WorkflowRun, step *models.StepDefinition, stepRun *models.WorkflowStepRun, result protocol.StepResult) (Outcome, error) {
	output := result.Output
	if output == nil {
		output = map[string]any{}
	}

	stepRun.OutputData = output
	applyBindings(run, step, output, result.ContextUpdates)

	if result.Suspended() {
		err := r.finish(ctx, stepRun, models.StepRunStatusWaiting)
		if err != nil {
			return Outcome{}, err
		}

		return Outcome{
			Kind:        OutcomeSuspend,
			NextStepKey: step.NextKey(false),
			ResumeAt:    result.ResumeAt.UTC(),
			StepRun:     stepRun,
		}, nil
	}

	err := r.finish(ctx, stepRun, models.StepRunStatusCompleted)
	if err != nil {
		return Outcome{}, err
	}

	r.notifier.publish(ctx, run, events.StepCompleted{
		BaseEvent: r.notifier.base(events.StepCompletedEvent, run),
		StepKey:   step.Key,
		StepType:  step.Type,
		Attempt:   stepRun.AttemptNumber,
		Output:    output,
	})

	return Outcome{
		Kind:        OutcomeAdvance,
		NextStepKey: step.NextKey(result.BranchValue()),
		StepRun:     stepRun,
	}, nil
}

func (r *Runner) finish(ctx context.Context, stepRun *models.WorkflowStepRun, status models.StepRunStatus) error {
	stepRun.Finish(status, r.clock.Now())

	err := r.stepRuns.Update(ctx, stepRun)
	if err != nil {
		return fmt.Errorf("failed to record %s attempt %d of step %q: %w", status, stepRun.AttemptNumber, stepRun.StepKey, err)
	}

	return nil
}

// applyBindings stores the step output under context.steps.<key>, under the
// declared output variable, and merges the executor's context updates.
func applyBindings(run *models.WorkflowRun, step *models.StepDefinition, output map[string]any, updates map[string]any) {
	if run.Context == nil {
		run.Context = map[string]any{}
	}

	steps, ok := run.Context[models.ContextStepsKey].(map[string]any)
	if !ok {
		steps = map[string]any{}
	}

	steps[step.Key] = output
	run.Context[models.ContextStepsKey] = steps

	if step.OutputVariable != "" {
		run.Context[step.OutputVariable] = output
	}

	for key, value := range updates {
		run.Context[key] = value
	}
}

// errorChain lists the messages of every wrapped error, outermost first.
func errorChain(err error) string {
	lines := make([]string, 0, 4)

	for current := err; current != nil; current = errors.Unwrap(current) {
		lines = append(lines, fmt.Sprintf("%T: %s", current, current.Error()))
	}

	return strings.Join(lines, "\n")
}
