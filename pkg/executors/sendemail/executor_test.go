package sendemail

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

func TestExecutor_Sends(t *testing.T) {
	sender := &mocks.MockEmailSender{}
	sender.On("Send", mock.Anything, "a@x.com", "investor-welcome", map[string]any{"name": "Ana"}).
		Return("msg-1", nil)

	result, err := NewExecutor(sender).Execute(context.Background(), protocol.StepInput{
		Config: models.SendEmailConfig{
			TemplateKey:  "investor-welcome",
			ToExpression: "a@x.com",
			Variables:    map[string]any{"name": "Ana"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "msg-1", result.Output["id"])
	sender.AssertExpectations(t)
}

func TestExecutor_SenderFailureIsRetryable(t *testing.T) {
	sender := &mocks.MockEmailSender{}
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("smtp unavailable"))

	_, err := NewExecutor(sender).Execute(context.Background(), protocol.StepInput{
		Config: models.SendEmailConfig{TemplateKey: "t", ToExpression: "a@x.com"},
	})
	require.Error(t, err)

	var retryable *protocol.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.False(t, protocol.IsPermanent(err))
}
