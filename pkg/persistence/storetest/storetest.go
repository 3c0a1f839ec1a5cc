// Package storetest holds behaviour tests shared by every persistence backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one sub-test.
type Factory func(t *testing.T) persistence.Persistence

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// NewRun builds a PENDING run started at startedAt.
func NewRun(workflowID string, startedAt time.Time) *models.WorkflowRun {
	payload := map[string]any{"email": "a@x.com", "amount": 42.0}

	return &models.WorkflowRun{
		ID:               uuid.NewString(),
		WorkflowID:       workflowID,
		TriggerEventName: "investor.created",
		TriggerPayload:   payload,
		Context:          map[string]any{models.ContextPayloadKey: payload},
		Status:           models.RunStatusPending,
		CurrentStepKey:   "send_welcome",
		HeartbeatAt:      startedAt,
		StartedAt:        startedAt,
	}
}

// Run executes the shared behaviour tests against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("run create and get", func(t *testing.T) { testRunCreateGet(t, factory(t)) })
	t.Run("run conditional update", func(t *testing.T) { testRunConditionalUpdate(t, factory(t)) })
	t.Run("run concurrent claim", func(t *testing.T) { testConcurrentClaim(t, factory(t)) })
	t.Run("run touch", func(t *testing.T) { testTouch(t, factory(t)) })
	t.Run("due and stale runs", func(t *testing.T) { testDueAndStale(t, factory(t)) })
	t.Run("list runs", func(t *testing.T) { testListRuns(t, factory(t)) })
	t.Run("step runs", func(t *testing.T) { testStepRuns(t, factory(t)) })
	t.Run("definitions", func(t *testing.T) { testDefinitions(t, factory(t)) })
	t.Run("health", func(t *testing.T) {
		require.NoError(t, factory(t).HealthCheck(context.Background()))
	})
}

func testRunCreateGet(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	runs := store.RunRepository()

	run := NewRun("wf-1", base)
	require.NoError(t, runs.Create(ctx, run))

	got, err := runs.GetByID(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, models.RunStatusPending, got.Status)
	assert.Equal(t, "send_welcome", got.CurrentStepKey)
	assert.Equal(t, "a@x.com", got.TriggerPayload["email"])
	assert.Equal(t, 42.0, got.Context["payload"].(map[string]any)["amount"])
	assert.True(t, base.Equal(got.StartedAt))
	assert.Nil(t, got.FinishedAt)
	assert.Nil(t, got.ResumeAt)
	assert.Equal(t, 0, got.Version)

	_, err = runs.GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsRunNotFound(err))
}

func testRunConditionalUpdate(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	runs := store.RunRepository()

	run := NewRun("wf-1", base)
	require.NoError(t, runs.Create(ctx, run))

	stale := run.Clone()

	resumeAt := base.Add(time.Minute)
	run.Status = models.RunStatusWaiting
	run.ResumeAt = &resumeAt
	run.CurrentStepKey = "wait"
	run.Context["welcomed"] = true

	require.NoError(t, runs.Update(ctx, run))
	assert.Equal(t, 1, run.Version)

	stale.Status = models.RunStatusCancelled
	err := runs.Update(ctx, stale)
	assert.True(t, persistence.IsConcurrentUpdate(err))

	got, err := runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusWaiting, got.Status)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "wait", got.CurrentStepKey)
	assert.Equal(t, true, got.Context["welcomed"])
	require.NotNil(t, got.ResumeAt)
	assert.True(t, resumeAt.Equal(*got.ResumeAt))

	finishedAt := base.Add(2 * time.Minute)
	got.Finish(models.RunStatusCompleted, finishedAt, "")
	require.NoError(t, runs.Update(ctx, got))

	got, err = runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finishedAt.Equal(*got.FinishedAt))
	assert.Nil(t, got.ResumeAt)

	missing := NewRun("wf-1", base)
	err = runs.Update(ctx, missing)
	assert.True(t, persistence.IsRunNotFound(err))
}

func testConcurrentClaim(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	runs := store.RunRepository()

	run := NewRun("wf-1", base)
	run.Status = models.RunStatusWaiting
	require.NoError(t, runs.Create(ctx, run))

	const contenders = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range contenders {
		wg.Add(1)

		go func() {
			defer wg.Done()

			claim := run.Clone()
			claim.Status = models.RunStatusRunning

			err := runs.Update(ctx, claim)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()

				return
			}

			assert.True(t, persistence.IsConcurrentUpdate(err), err)
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testTouch(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	runs := store.RunRepository()

	run := NewRun("wf-1", base)
	require.NoError(t, runs.Create(ctx, run))

	beat := base.Add(10 * time.Second)
	require.NoError(t, runs.Touch(ctx, run.ID, run.Version, beat))

	got, err := runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, beat.Equal(got.HeartbeatAt))
	assert.Equal(t, run.Version, got.Version)

	err = runs.Touch(ctx, run.ID, run.Version+1, beat)
	assert.True(t, persistence.IsConcurrentUpdate(err))
}

func testDueAndStale(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	runs := store.RunRepository()

	due := NewRun("wf-1", base)
	due.Status = models.RunStatusWaiting
	dueAt := base.Add(time.Minute)
	due.ResumeAt = &dueAt

	later := NewRun("wf-1", base)
	later.Status = models.RunStatusWaiting
	laterAt := base.Add(time.Hour)
	later.ResumeAt = &laterAt

	stale := NewRun("wf-1", base)
	stale.Status = models.RunStatusRunning
	stale.HeartbeatAt = base.Add(-10 * time.Minute)

	fresh := NewRun("wf-1", base)
	fresh.Status = models.RunStatusRunning
	fresh.HeartbeatAt = base.Add(time.Minute)

	for _, run := range []*models.WorkflowRun{due, later, stale, fresh} {
		require.NoError(t, runs.Create(ctx, run))
	}

	found, err := runs.ListDue(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)

	found, err = runs.ListDue(ctx, base.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = runs.ListStale(ctx, base.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID, found[0].ID)
}

func testListRuns(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	runs := store.RunRepository()

	ids := make([]string, 0, 5)

	for i := range 5 {
		workflowID := "wf-a"
		if i%2 == 1 {
			workflowID = "wf-b"
		}

		run := NewRun(workflowID, base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			run.Status = models.RunStatusFailed
		}

		require.NoError(t, runs.Create(ctx, run))
		ids = append(ids, run.ID)
	}

	page, err := runs.List(ctx, persistence.ListRunsOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Runs, 2)
	assert.Equal(t, ids[4], page.Runs[0].ID)
	assert.Equal(t, ids[3], page.Runs[1].ID)

	page, err = runs.List(ctx, persistence.ListRunsOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.False(t, page.HasNextPage)
	require.Len(t, page.Runs, 1)
	assert.Equal(t, ids[0], page.Runs[0].ID)

	page, err = runs.List(ctx, persistence.ListRunsOptions{WorkflowID: "wf-a"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)

	page, err = runs.List(ctx, persistence.ListRunsOptions{Status: models.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, page.Runs, 1)
	assert.Equal(t, ids[4], page.Runs[0].ID)

	from := base.Add(time.Minute)
	to := base.Add(3 * time.Minute)
	page, err = runs.List(ctx, persistence.ListRunsOptions{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)

	_, err = runs.List(ctx, persistence.ListRunsOptions{Limit: -1})
	assert.ErrorIs(t, err, persistence.ErrInvalidListOptions)
}

func testStepRuns(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	run := NewRun("wf-1", base)
	require.NoError(t, store.RunRepository().Create(ctx, run))

	stepRuns := store.StepRunRepository()

	first := &models.WorkflowStepRun{
		ID:            uuid.NewString(),
		RunID:         run.ID,
		StepKey:       "send_welcome",
		StepType:      models.StepTypeSendEmail,
		Status:        models.StepRunStatusRunning,
		AttemptNumber: 1,
		InputData:     map[string]any{"toExpression": "a@x.com"},
		StartedAt:     base,
	}
	require.NoError(t, stepRuns.Create(ctx, first))

	second := &models.WorkflowStepRun{
		ID:            uuid.NewString(),
		RunID:         run.ID,
		StepKey:       "send_welcome",
		StepType:      models.StepTypeSendEmail,
		Status:        models.StepRunStatusRunning,
		AttemptNumber: 2,
		StartedAt:     base.Add(time.Second),
	}
	require.NoError(t, stepRuns.Create(ctx, second))

	first.ErrorMessage = "smtp unavailable"
	first.ErrorStack = "send_welcome attempt 1: smtp unavailable"
	first.Finish(models.StepRunStatusFailed, base.Add(500*time.Millisecond))
	require.NoError(t, stepRuns.Update(ctx, first))

	second.OutputData = map[string]any{"id": "msg-1"}
	second.Finish(models.StepRunStatusCompleted, base.Add(2*time.Second))
	require.NoError(t, stepRuns.Update(ctx, second))

	listed, err := stepRuns.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	assert.Equal(t, 1, listed[0].AttemptNumber)
	assert.Equal(t, models.StepRunStatusFailed, listed[0].Status)
	assert.Equal(t, "smtp unavailable", listed[0].ErrorMessage)
	assert.Equal(t, "a@x.com", listed[0].InputData["toExpression"])
	require.NotNil(t, listed[0].FinishedAt)

	assert.Equal(t, 2, listed[1].AttemptNumber)
	assert.Equal(t, models.StepRunStatusCompleted, listed[1].Status)
	assert.Equal(t, "msg-1", listed[1].OutputData["id"])

	err = stepRuns.Update(ctx, &models.WorkflowStepRun{ID: uuid.NewString(), RunID: run.ID})
	assert.ErrorIs(t, err, persistence.ErrStepRunNotFound)

	empty, err := stepRuns.ListByRun(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testDefinitions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	definitions := store.DefinitionRepository()

	active := &models.WorkflowDefinition{
		ID:               "investor-welcome",
		Name:             "Investor welcome",
		TriggerEventName: "investor.created",
		Active:           true,
		Steps: []*models.StepDefinition{
			{
				Key:            "send_welcome",
				Type:           models.StepTypeSendEmail,
				Config:         map[string]any{"templateKey": "welcome", "toExpression": "{{payload.email}}"},
				RetryCount:     2,
				TimeoutSeconds: 30,
				NextStepKey:    "flag",
			},
			{
				Key:            "flag",
				Type:           models.StepTypeSetVariable,
				Config:         map[string]any{"variableName": "welcomed", "valueExpression": true},
				TimeoutSeconds: 5,
			},
		},
	}

	inactive := &models.WorkflowDefinition{
		ID:               "investor-legacy",
		TriggerEventName: "investor.created",
		Active:           false,
	}

	other := &models.WorkflowDefinition{
		ID:               "document-signed",
		TriggerEventName: "document.signed",
		Active:           true,
	}

	for _, definition := range []*models.WorkflowDefinition{active, inactive, other} {
		require.NoError(t, definitions.Save(ctx, definition))
	}

	matching, err := definitions.ActiveByEvent(ctx, "investor.created")
	require.NoError(t, err)
	require.Len(t, matching, 1)
	assert.Equal(t, "investor-welcome", matching[0].ID)
	require.Len(t, matching[0].Steps, 2)
	assert.Equal(t, "flag", matching[0].Steps[0].NextStepKey)
	assert.Equal(t, 2, matching[0].Steps[0].RetryCount)
	assert.Equal(t, "{{payload.email}}", matching[0].Steps[0].Config["toExpression"])

	got, err := definitions.GetByID(ctx, "investor-legacy")
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = definitions.GetByID(ctx, "missing")
	assert.True(t, persistence.IsDefinitionNotFound(err))

	inactive.Active = true
	require.NoError(t, definitions.Save(ctx, inactive))

	matching, err = definitions.ActiveByEvent(ctx, "investor.created")
	require.NoError(t, err)
	assert.Len(t, matching, 2)

	all, err := definitions.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
