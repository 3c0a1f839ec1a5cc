package setvariable

import (
	"context"
	"testing"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_SetsContextVariable(t *testing.T) {
	result, err := NewExecutor().Execute(context.Background(), protocol.StepInput{
		Config: models.SetVariableConfig{VariableName: "welcomed", ValueExpression: true},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"welcomed": true}, result.ContextUpdates)
	assert.Equal(t, true, result.Output["value"])
	assert.False(t, result.Suspended())
}
