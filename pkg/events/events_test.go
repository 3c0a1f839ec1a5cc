package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typed interface {
	GetType() EventType
}

func TestNew_CoversEveryEventType(t *testing.T) {
	eventTypes := []EventType{
		RunStartedEvent,
		RunWaitingEvent,
		RunResumedEvent,
		RunCompletedEvent,
		RunFailedEvent,
		RunCancelledEvent,
		StepCompletedEvent,
		StepFailedEvent,
		TriggerReceivedEvent,
		EmailRequestedEvent,
	}

	for _, eventType := range eventTypes {
		event, ok := New(eventType)
		require.True(t, ok, eventType)

		withType, ok := event.(typed)
		require.True(t, ok, eventType)
		assert.Equal(t, eventType, withType.GetType())
	}

	_, ok := New("workflow.unknown")
	assert.False(t, ok)
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, TriggersTopic, TopicOf(TriggerReceivedEvent))
	assert.Equal(t, Topic, TopicOf(RunCompletedEvent))
	assert.Equal(t, Topic, TopicOf(EmailRequestedEvent))
}

func TestNewBaseEvent(t *testing.T) {
	run := &models.WorkflowRun{ID: "run-1", WorkflowID: "investor-welcome"}

	base := NewBaseEvent(RunStartedEvent, run)
	assert.NotEmpty(t, base.ID)
	assert.Equal(t, RunStartedEvent, base.Type)
	assert.Equal(t, "run-1", base.RunID)
	assert.Equal(t, "investor-welcome", base.WorkflowID)
	assert.WithinDuration(t, time.Now(), base.Timestamp, time.Minute)

	base = NewBaseEvent(TriggerReceivedEvent, nil)
	assert.Empty(t, base.RunID)
}

func TestRunWaiting_JSON(t *testing.T) {
	resumeAt := time.Date(2026, 4, 1, 10, 1, 0, 0, time.UTC)
	original := &RunWaiting{
		BaseEvent: NewBaseEvent(RunWaitingEvent, &models.WorkflowRun{ID: "run-1", WorkflowID: "wf-1"}),
		StepKey:   "wait_a_minute",
		ResumeAt:  resumeAt,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step_key":"wait_a_minute"`)
	assert.Contains(t, string(data), `"run_id":"run-1"`)

	var decoded RunWaiting
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, resumeAt.Equal(decoded.ResumeAt))
	assert.Equal(t, "wf-1", decoded.WorkflowID)
}

func TestTriggerReceived_Validate(t *testing.T) {
	event := NewTriggerReceived("investor.created", map[string]any{"email": "a@x.com"})
	assert.NoError(t, event.Validate())

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_name":"investor.created"`)

	event.EventName = ""
	assert.ErrorIs(t, event.Validate(), ErrEventNameRequired)
}
