package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/opsflow/pkg/mocks"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/persistence/file"
	"github.com/dukex/opsflow/pkg/services"
	"github.com/dukex/opsflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testApp struct {
	app        *fiber.App
	store      persistence.Persistence
	dispatcher *mocks.MockDispatcher
	controller *mocks.MockRunController
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	dispatcher := &mocks.MockDispatcher{}
	controller := &mocks.MockRunController{}

	app := fiber.New()
	web.NewAPIHandlers(services.NewRuns(store, dispatcher, controller)).Routes(app)

	return &testApp{app: app, store: store, dispatcher: dispatcher, controller: controller}
}

func (a *testApp) do(t *testing.T, method, target string, body []byte) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (a *testApp) createRun(t *testing.T, id string, status models.RunStatus, startedAt time.Time) {
	t.Helper()

	require.NoError(t, a.store.RunRepository().Create(context.Background(), &models.WorkflowRun{
		ID:               id,
		WorkflowID:       "wf-welcome",
		TriggerEventName: "investor.created",
		Status:           status,
		Context:          map[string]any{},
		StartedAt:        startedAt,
		HeartbeatAt:      startedAt,
	}))
}

func TestAPIHandlers_DispatchEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           []byte
		setup          func(d *mocks.MockDispatcher)
		expectedStatus int
		validate       func(t *testing.T, body []byte)
	}{
		{
			name: "runs started",
			body: []byte(`{"investor_id":"inv-1"}`),
			setup: func(d *mocks.MockDispatcher) {
				d.On("Dispatch", mock.Anything, "investor.created", map[string]any{"investor_id": "inv-1"}).
					Return([]models.RunHandle{{RunID: "run-1", WorkflowID: "wf-welcome"}}, nil)
			},
			expectedStatus: http.StatusAccepted,
			validate: func(t *testing.T, body []byte) {
				t.Helper()

				var response web.DispatchResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, []models.RunHandle{{RunID: "run-1", WorkflowID: "wf-welcome"}}, response.Runs)
				assert.Empty(t, response.Errors)
			},
		},
		{
			name: "no subscribers",
			setup: func(d *mocks.MockDispatcher) {
				d.On("Dispatch", mock.Anything, "investor.created", map[string]any{}).Return([]models.RunHandle{}, nil)
			},
			expectedStatus: http.StatusAccepted,
			validate: func(t *testing.T, body []byte) {
				t.Helper()
				assert.JSONEq(t, `{"runs":[]}`, string(body))
			},
		},
		{
			name: "partial failure keeps started runs",
			body: []byte(`{}`),
			setup: func(d *mocks.MockDispatcher) {
				d.On("Dispatch", mock.Anything, "investor.created", map[string]any{}).
					Return([]models.RunHandle{{RunID: "run-1", WorkflowID: "wf-welcome"}}, errors.New("store down"))
			},
			expectedStatus: http.StatusAccepted,
			validate: func(t *testing.T, body []byte) {
				t.Helper()

				var response web.DispatchResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Len(t, response.Runs, 1)
				assert.Equal(t, []string{"store down"}, response.Errors)
			},
		},
		{
			name: "total failure",
			body: []byte(`{}`),
			setup: func(d *mocks.MockDispatcher) {
				d.On("Dispatch", mock.Anything, "investor.created", map[string]any{}).
					Return([]models.RunHandle{}, errors.New("store down"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "payload is not an object",
			body:           []byte(`[1,2]`),
			setup:          func(*mocks.MockDispatcher) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := setupTestApp(t)
			tt.setup(a.dispatcher)

			status, body := a.do(t, http.MethodPost, "/events/investor.created", tt.body)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validate != nil {
				tt.validate(t, body)
			}
		})
	}
}

func TestAPIHandlers_GetRuns(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.createRun(t, "run-1", models.RunStatusCompleted, t0)
	a.createRun(t, "run-2", models.RunStatusWaiting, t0.Add(time.Minute))
	a.createRun(t, "run-3", models.RunStatusWaiting, t0.Add(2*time.Minute))

	t.Run("filters and pages", func(t *testing.T) {
		status, body := a.do(t, http.MethodGet, "/runs?workflow_id=wf-welcome&status=WAITING&limit=1", nil)
		require.Equal(t, http.StatusOK, status, string(body))

		var response web.ListRunsResponse
		require.NoError(t, json.Unmarshal(body, &response))

		require.Len(t, response.Runs, 1)
		assert.Equal(t, "run-3", response.Runs[0].ID)
		assert.Equal(t, 2, response.TotalCount)
		assert.True(t, response.HasNextPage)
		assert.Equal(t, 1, response.Pagination.Limit)
	})

	t.Run("date range", func(t *testing.T) {
		status, body := a.do(t, http.MethodGet, "/runs?from=2026-03-02T09:00:30Z&to=2026-03-02T09:01:30Z", nil)
		require.Equal(t, http.StatusOK, status, string(body))

		var response web.ListRunsResponse
		require.NoError(t, json.Unmarshal(body, &response))
		require.Len(t, response.Runs, 1)
		assert.Equal(t, "run-2", response.Runs[0].ID)
	})

	for _, query := range []string{"status=SLEEPING", "limit=abc", "from=yesterday", "from=2026-03-03T00:00:00Z&to=2026-03-02T00:00:00Z"} {
		t.Run("rejects "+query, func(t *testing.T) {
			status, body := a.do(t, http.MethodGet, "/runs?"+query, nil)
			assert.Equal(t, http.StatusBadRequest, status)

			var problem map[string]any
			require.NoError(t, json.Unmarshal(body, &problem))
			assert.Equal(t, "validation_error", problem["type"])
		})
	}
}

func TestAPIHandlers_GetRun(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.createRun(t, "run-1", models.RunStatusRunning, t0)

	require.NoError(t, a.store.StepRunRepository().Create(context.Background(), &models.WorkflowStepRun{
		ID:            "step-1",
		RunID:         "run-1",
		StepKey:       "send_welcome",
		StepType:      models.StepTypeSendEmail,
		Status:        models.StepRunStatusRunning,
		AttemptNumber: 1,
		StartedAt:     t0,
	}))

	status, body := a.do(t, http.MethodGet, "/runs/run-1", nil)
	require.Equal(t, http.StatusOK, status)

	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusRunning, run.Status)

	status, body = a.do(t, http.MethodGet, "/runs/run-1/steps", nil)
	require.Equal(t, http.StatusOK, status)

	var timeline web.TimelineResponse
	require.NoError(t, json.Unmarshal(body, &timeline))
	require.Len(t, timeline.Steps, 1)
	assert.Equal(t, "send_welcome", timeline.Steps[0].StepKey)

	status, body = a.do(t, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "run_not_found")

	status, _ = a.do(t, http.MethodGet, "/runs/missing/steps", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_CancelRun(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)

	a.controller.On("Cancel", mock.Anything, "run-1").
		Return(&models.WorkflowRun{ID: "run-1", Status: models.RunStatusCancelled}, nil)
	a.controller.On("Cancel", mock.Anything, "run-2").
		Return(&models.WorkflowRun{ID: "run-2", Status: models.RunStatusCompleted}, services.ErrRunFinished)
	a.controller.On("Cancel", mock.Anything, "missing").
		Return(nil, persistence.NewRunError("GetByID", "missing", persistence.ErrRunNotFound))

	status, body := a.do(t, http.MethodPost, "/runs/run-1/cancel", nil)
	require.Equal(t, http.StatusAccepted, status)
	assert.Contains(t, string(body), `"status":"CANCELLED"`)

	status, body = a.do(t, http.MethodPost, "/runs/run-2/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), "run_finished")

	status, _ = a.do(t, http.MethodPost, "/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_ResumeRun(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.controller.On("Resume", mock.Anything, "run-1").Return(true, nil)
	a.controller.On("Resume", mock.Anything, "run-2").Return(false, nil)

	status, body := a.do(t, http.MethodPost, "/runs/run-1/resume", nil)
	require.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"run_id":"run-1","resumed":true}`, string(body))

	status, body = a.do(t, http.MethodPost, "/runs/run-2/resume", nil)
	require.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"run_id":"run-2","resumed":false}`, string(body))
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)

	status, body := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
}
