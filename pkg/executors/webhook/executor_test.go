package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/opsflow/pkg/mocks"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Call(t *testing.T) {
	headers := map[string]string{"X-Signature": "abc"}

	caller := &mocks.MockWebhookCaller{}
	caller.On("Call", mock.Anything, "https://hooks.example/signed", "POST", headers, "payload").
		Return(protocol.Response{Status: 200, Body: "ok"}, nil)

	result, err := NewExecutor(caller).Execute(context.Background(), protocol.StepInput{
		Config: models.CallWebhookConfig{URL: "https://hooks.example/signed", Method: "POST", Headers: headers, Body: "payload"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, result.Output["status"])
	caller.AssertExpectations(t)
}

func TestExecutor_Failures(t *testing.T) {
	caller := &mocks.MockWebhookCaller{}
	caller.On("Call", mock.Anything, "https://down.example", "GET", mock.Anything, mock.Anything).
		Return(protocol.Response{}, errors.New("connection refused"))
	caller.On("Call", mock.Anything, "https://busy.example", "GET", mock.Anything, mock.Anything).
		Return(protocol.Response{Status: 429, Body: "slow down"}, nil)

	executor := NewExecutor(caller)

	_, err := executor.Execute(context.Background(), protocol.StepInput{
		Config: models.CallWebhookConfig{URL: "https://down.example", Method: "get"},
	})
	require.Error(t, err)
	assert.False(t, protocol.IsPermanent(err))

	_, err = executor.Execute(context.Background(), protocol.StepInput{
		Config: models.CallWebhookConfig{URL: "https://busy.example", Method: "GET"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}
