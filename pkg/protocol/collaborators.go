package protocol

import (
	"context"
	"fmt"
)

// EmailSender delivers templated emails. Failures are retried by the runner.
type EmailSender interface {
	Send(ctx context.Context, to string, templateKey string, variables map[string]any) (string, error)
}

// Response is the reply of an HTTP-style collaborator.
type Response struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

// InternalAPICaller calls endpoints of the platform itself. A non-2xx status is a
// retryable failure.
type InternalAPICaller interface {
	Call(ctx context.Context, method, endpoint string, body any) (Response, error)
}

// WebhookCaller calls arbitrary URLs.
type WebhookCaller interface {
	Call(ctx context.Context, url, method string, headers map[string]string, body any) (Response, error)
}

// StepLogger writes LOG step messages. It never fails the step.
type StepLogger interface {
	Log(ctx context.Context, level, message string)
}

// StatusError reports a non-2xx reply from an HTTP-style collaborator.
type StatusError struct {
	Status int
	Body   any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %v", e.Status, e.Body)
}

// CheckStatus turns a non-2xx response into a retryable StatusError.
func CheckStatus(resp Response) error {
	if resp.Status >= 200 && resp.Status < 300 {
		return nil
	}

	return Retryable(&StatusError{Status: resp.Status, Body: resp.Body})
}
