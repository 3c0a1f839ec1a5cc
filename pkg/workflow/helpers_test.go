package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/mocks"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/persistence/file"
	"github.com/dukex/opsflow/pkg/registry"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	store        persistence.Persistence
	clock        *clock.Fake
	email        *mocks.MockEmailSender
	internalAPI  *mocks.MockInternalAPICaller
	stepLogger   *mocks.MockStepLogger
	publisher    *recordingPublisher
	delays       *fakeDelayIndex
	registry     *registry.Registry
	orchestrator *Orchestrator
	logger       *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:       file.NewPersistence(t.TempDir()),
		clock:       clock.NewFake(t0),
		email:       &mocks.MockEmailSender{},
		internalAPI: &mocks.MockInternalAPICaller{},
		stepLogger:  &mocks.MockStepLogger{},
		publisher:   &recordingPublisher{},
		delays:      newFakeDelayIndex(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	h.registry = registry.NewRegistry(h.logger)
	require.NoError(t, h.registry.RegisterDefaults(registry.Collaborators{
		Email:       h.email,
		InternalAPI: h.internalAPI,
		Logger:      h.stepLogger,
	}, h.clock))

	h.orchestrator = NewOrchestrator(h.logger, h.store, h.registry,
		WithClock(h.clock),
		WithPublisher(h.publisher),
		WithDelayIndex(h.delays),
		WithWorkerID("worker-test"),
		WithHeartbeatInterval(0),
	)

	return h
}

func (h *harness) save(t *testing.T, definition *models.WorkflowDefinition) *models.WorkflowDefinition {
	t.Helper()

	require.NoError(t, h.store.DefinitionRepository().Save(context.Background(), definition))

	return definition
}

func (h *harness) run(t *testing.T, id string) *models.WorkflowRun {
	t.Helper()

	run, err := h.store.RunRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return run
}

func (h *harness) stepRuns(t *testing.T, runID string) []*models.WorkflowStepRun {
	t.Helper()

	stepRuns, err := h.store.StepRunRepository().ListByRun(context.Background(), runID)
	require.NoError(t, err)

	return stepRuns
}

func definition(id, event string, steps ...*models.StepDefinition) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:               id,
		Name:             id,
		TriggerEventName: event,
		Active:           true,
		Steps:            steps,
	}
}

func step(key string, stepType models.StepType, next string, config map[string]any) *models.StepDefinition {
	return &models.StepDefinition{
		Key:            key,
		Type:           stepType,
		Config:         config,
		TimeoutSeconds: 5,
		NextStepKey:    next,
	}
}

func setVariable(key, name string, value any, next string) *models.StepDefinition {
	return step(key, models.StepTypeSetVariable, next, map[string]any{
		"variableName":    name,
		"valueExpression": value,
	})
}

func delayStep(key string, minutes int, next string) *models.StepDefinition {
	return step(key, models.StepTypeDelay, next, map[string]any{"duration": minutes, "unit": "minutes"})
}

func stepKeys(stepRuns []*models.WorkflowStepRun) []string {
	keys := make([]string, 0, len(stepRuns))
	for _, stepRun := range stepRuns {
		keys = append(keys, stepRun.StepKey)
	}

	return keys
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type fakeDelayIndex struct {
	mu      sync.Mutex
	entries map[string]time.Time
	removed []string
}

func newFakeDelayIndex() *fakeDelayIndex {
	return &fakeDelayIndex{entries: map[string]time.Time{}}
}

func (f *fakeDelayIndex) Schedule(_ context.Context, runID string, resumeAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries[runID] = resumeAt

	return nil
}

func (f *fakeDelayIndex) Remove(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.entries, runID)
	f.removed = append(f.removed, runID)

	return nil
}

func (f *fakeDelayIndex) PopDue(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	due := make([]string, 0)

	for id, at := range f.entries {
		if !at.After(now) {
			due = append(due, id)
			delete(f.entries, id)
		}
	}

	return due, nil
}

func (f *fakeDelayIndex) scheduled(runID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	at, ok := f.entries[runID]

	return at, ok
}
