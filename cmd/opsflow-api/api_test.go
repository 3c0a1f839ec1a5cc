package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/opsflow/pkg/mocks"
	"github.com/dukex/opsflow/pkg/persistence/file"
	"github.com/dukex/opsflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	runs := services.NewRuns(store, &mocks.MockDispatcher{}, &mocks.MockRunController{})

	return NewAPI(slog.New(slog.NewTextHandler(io.Discard, nil)), runs).App()
}

func get(t *testing.T, app *fiber.App, target string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "opsflow API", body)
}

func TestAPI_Probes(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		status, _ := get(t, app, path)
		assert.Equal(t, http.StatusOK, status, path)
	}
}

func TestAPI_RunRoutes(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/runs")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"total_count":0`)
}
