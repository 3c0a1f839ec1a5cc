package mocks

import (
	"context"

	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockEmailSender is a mock implementation of protocol.EmailSender interface.
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to string, templateKey string, variables map[string]any) (string, error) {
	args := m.Called(ctx, to, templateKey, variables)

	return args.String(0), args.Error(1)
}

// MockInternalAPICaller is a mock implementation of protocol.InternalAPICaller interface.
type MockInternalAPICaller struct {
	mock.Mock
}

func (m *MockInternalAPICaller) Call(ctx context.Context, method, endpoint string, body any) (protocol.Response, error) {
	args := m.Called(ctx, method, endpoint, body)

	return args.Get(0).(protocol.Response), args.Error(1)
}

// MockWebhookCaller is a mock implementation of protocol.WebhookCaller interface.
type MockWebhookCaller struct {
	mock.Mock
}

func (m *MockWebhookCaller) Call(ctx context.Context, url, method string, headers map[string]string, body any) (protocol.Response, error) {
	args := m.Called(ctx, url, method, headers, body)

	return args.Get(0).(protocol.Response), args.Error(1)
}

// MockStepLogger is a mock implementation of protocol.StepLogger interface.
type MockStepLogger struct {
	mock.Mock
}

func (m *MockStepLogger) Log(ctx context.Context, level, message string) {
	m.Called(ctx, level, message)
}
