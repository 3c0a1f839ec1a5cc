package delay

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_ComputesResumeAt(t *testing.T) {
	start := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	executor := NewExecutor(clock.NewFake(start))

	tests := []struct {
		cfg  models.DelayConfig
		want time.Time
	}{
		{models.DelayConfig{Duration: 30, Unit: models.DelayUnitSeconds}, start.Add(30 * time.Second)},
		{models.DelayConfig{Duration: 1, Unit: models.DelayUnitMinutes}, start.Add(time.Minute)},
		{models.DelayConfig{Duration: 1.5, Unit: models.DelayUnitHours}, start.Add(90 * time.Minute)},
		{models.DelayConfig{Duration: 2, Unit: models.DelayUnitDays}, start.Add(48 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(string(tt.cfg.Unit), func(t *testing.T) {
			result, err := executor.Execute(context.Background(), protocol.StepInput{Config: tt.cfg})
			require.NoError(t, err)
			require.True(t, result.Suspended())
			assert.Equal(t, tt.want, *result.ResumeAt)
			assert.Equal(t, tt.want.Format(time.RFC3339Nano), result.Output["resumeAt"])
		})
	}
}

func TestExecutor_WrongConfig(t *testing.T) {
	_, err := NewExecutor(clock.NewReal()).Execute(context.Background(), protocol.StepInput{Config: models.LogConfig{}})
	require.Error(t, err)
	assert.True(t, protocol.IsPermanent(err))
}
