// Package web provides the HTTP API of the workflow engine: event dispatch and
// the run history and control endpoints.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/opsflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	runs *services.Runs
}

func NewAPIHandlers(runs *services.Runs) *APIHandlers {
	return &APIHandlers{runs: runs}
}

// Routes mounts every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Post("/events/:name", h.DispatchEvent)

	r := router.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)
	r.Get("/:id/steps", h.GetRunSteps)
	r.Post("/:id/cancel", h.CancelRun)
	r.Post("/:id/resume", h.ResumeRun)

	router.Get("/health", h.HealthCheck)
}

// DispatchEvent starts the workflows subscribed to the event named in the path.
// The request body is the trigger payload.
func (h *APIHandlers) DispatchEvent(c fiber.Ctx) error {
	payload := map[string]any{}

	body := c.Body()
	if len(body) > 0 {
		err := json.Unmarshal(body, &payload)
		if err != nil {
			return badRequest(c, "Payload must be a JSON object: "+err.Error())
		}
	}

	handles, err := h.runs.Dispatch(c.Context(), c.Params("name"), payload)
	if err != nil && (services.IsValidationError(err) || len(handles) == 0) {
		return handleServiceError(c, err)
	}

	response := DispatchResponse{Runs: handles}
	if err != nil {
		response.Errors = []string{err.Error()}
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	req, err := parseListRunsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.runs.ListRuns(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListRunsResponse{
		Runs:        result.Runs,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
		Pagination: Pagination{
			Limit:  req.Limit,
			Offset: req.Offset,
		},
	})
}

func parseListRunsRequest(c fiber.Ctx) (*services.ListRunsRequest, error) {
	req := &services.ListRunsRequest{
		WorkflowID: c.Query("workflow_id"),
		Status:     c.Query("status"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, fmt.Errorf("offset: %w", err)
		}

		req.Offset = offset
	}

	var err error

	req.From, err = parseTime(c.Query("from"))
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}

	req.To, err = parseTime(c.Query("to"))
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	return req, nil
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}

	t = t.UTC()

	return &t, nil
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runs.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunSteps(c fiber.Ctx) error {
	runID := c.Params("id")

	steps, err := h.runs.Timeline(c.Context(), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TimelineResponse{RunID: runID, Steps: steps})
}

// CancelRun ends a PENDING or WAITING run at once; a RUNNING run is flagged and
// stops after its current step.
func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	run, err := h.runs.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	runID := c.Params("id")

	resumed, err := h.runs.Resume(c.Context(), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ResumeResponse{RunID: runID, Resumed: resumed})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.runs.HealthCheck(c.Context())

	status := "unhealthy"
	message := "opsflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "opsflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
