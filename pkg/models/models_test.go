package models

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepType_IsValid(t *testing.T) {
	for _, stepType := range StepTypes {
		assert.True(t, stepType.IsValid(), stepType)
	}

	assert.False(t, StepType("SEND_SMS").IsValid())
	assert.False(t, StepType("").IsValid())
}

func TestStepDefinition_NextKey(t *testing.T) {
	tests := []struct {
		name   string
		step   StepDefinition
		branch bool
		want   string
	}{
		{
			name: "linear step ignores branch",
			step: StepDefinition{Type: StepTypeLog, NextStepKey: "b"},
			want: "b",
		},
		{
			name:   "conditional true",
			step:   StepDefinition{Type: StepTypeConditional, OnTrueStepKey: "yes", OnFalseStepKey: "no"},
			branch: true,
			want:   "yes",
		},
		{
			name: "conditional false",
			step: StepDefinition{Type: StepTypeConditional, OnTrueStepKey: "yes", OnFalseStepKey: "no"},
			want: "no",
		},
		{
			name:   "conditional missing branch terminates",
			step:   StepDefinition{Type: StepTypeConditional, OnFalseStepKey: "no"},
			branch: true,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.NextKey(tt.branch))
		})
	}
}

func TestWorkflowDefinition_Step(t *testing.T) {
	definition := &WorkflowDefinition{
		ID:               "wf-1",
		TriggerEventName: "investor.created",
		Steps: []*StepDefinition{
			{Key: "email", Type: StepTypeSendEmail, TimeoutSeconds: 10},
			{Key: "flag", Type: StepTypeSetVariable, TimeoutSeconds: 10},
		},
	}

	assert.Equal(t, "email", definition.FirstStep().Key)

	step, ok := definition.Step("flag")
	require.True(t, ok)
	assert.Equal(t, StepTypeSetVariable, step.Type)

	_, ok = definition.Step("missing")
	assert.False(t, ok)

	assert.Nil(t, (&WorkflowDefinition{}).FirstStep())
}

func TestWorkflowDefinition_Validation(t *testing.T) {
	validate := validator.New()

	definition := &WorkflowDefinition{
		ID:               "wf-1",
		TriggerEventName: "investor.created",
		Steps: []*StepDefinition{
			{Key: "email", Type: StepTypeSendEmail, RetryCount: -1, TimeoutSeconds: 0},
		},
	}

	err := validate.Struct(definition)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))

	fields := map[string]string{}
	for _, fieldErr := range validationErrors {
		fields[fieldErr.Field()] = fieldErr.Tag()
	}

	assert.Equal(t, "min", fields["RetryCount"])
	assert.Equal(t, "gt", fields["TimeoutSeconds"])
}

func TestDecodeStepConfig(t *testing.T) {
	t.Run("delay accepts numeric strings", func(t *testing.T) {
		cfg, err := DecodeStepConfig(StepTypeDelay, map[string]any{"duration": "2", "unit": "minutes"})
		require.NoError(t, err)

		delay, ok := cfg.(DelayConfig)
		require.True(t, ok)
		assert.Equal(t, 2*time.Minute, delay.Interval())
	})

	t.Run("delay rejects unknown unit", func(t *testing.T) {
		_, err := DecodeStepConfig(StepTypeDelay, map[string]any{"duration": 1, "unit": "weeks"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unit")
	})

	t.Run("conditional keeps value typing", func(t *testing.T) {
		cfg, err := DecodeStepConfig(StepTypeConditional, map[string]any{
			"field":    "payload.amount",
			"operator": "greater_than",
			"value":    100,
		})
		require.NoError(t, err)

		conditional := cfg.(ConditionalConfig)
		assert.Equal(t, OperatorGreaterThan, conditional.Operator)
		assert.Equal(t, 100, conditional.Value)
	})

	t.Run("send email requires recipient", func(t *testing.T) {
		_, err := DecodeStepConfig(StepTypeSendEmail, map[string]any{"templateKey": "welcome"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ToExpression")
	})

	t.Run("log level is optional", func(t *testing.T) {
		cfg, err := DecodeStepConfig(StepTypeLog, map[string]any{"message": "hello"})
		require.NoError(t, err)
		assert.Equal(t, StepTypeLog, cfg.StepType())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeStepConfig(StepType("SEND_SMS"), nil)
		assert.ErrorIs(t, err, ErrUnknownStepType)
	})
}

func TestRunStatus_IsTerminal(t *testing.T) {
	terminal := map[RunStatus]bool{
		RunStatusPending:   false,
		RunStatusRunning:   false,
		RunStatusWaiting:   false,
		RunStatusCompleted: true,
		RunStatusFailed:    true,
		RunStatusCancelled: true,
	}

	for status, want := range terminal {
		assert.Equal(t, want, status.IsTerminal(), status)
	}
}

func TestWorkflowRun_FinishAndClone(t *testing.T) {
	resumeAt := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	run := &WorkflowRun{
		ID:       "run-1",
		Status:   RunStatusWaiting,
		ResumeAt: &resumeAt,
		Context: map[string]any{
			"payload": map[string]any{"email": "a@x.com"},
			"tags":    []any{"vip"},
		},
	}

	clone := run.Clone()
	clone.Context["payload"].(map[string]any)["email"] = "b@x.com"
	clone.Context["tags"].([]any)[0] = "regular"

	assert.Equal(t, "a@x.com", run.Context["payload"].(map[string]any)["email"])
	assert.Equal(t, "vip", run.Context["tags"].([]any)[0])

	finishedAt := resumeAt.Add(time.Minute)
	run.Finish(RunStatusCompleted, finishedAt, "")

	assert.True(t, run.IsTerminal())
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finishedAt, *run.FinishedAt)
	assert.Nil(t, run.ResumeAt)
}

func TestWorkflowStepRun_Finish(t *testing.T) {
	now := time.Now().UTC()

	stepRun := &WorkflowStepRun{Status: StepRunStatusRunning}
	stepRun.Finish(StepRunStatusWaiting, now)
	assert.Nil(t, stepRun.FinishedAt)

	stepRun.Finish(StepRunStatusCompleted, now)
	require.NotNil(t, stepRun.FinishedAt)
	assert.True(t, stepRun.Status.IsTerminal())
}
