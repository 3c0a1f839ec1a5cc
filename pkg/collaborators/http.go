// Package collaborators provides the default implementations of the services
// step executors delegate to: HTTP callers, an email sender and a step logger.
package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/opsflow/pkg/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultHTTPTimeout = 30 * time.Second

var (
	ErrBaseURLRequired     = errors.New("internal API base URL is required")
	ErrInternalAPIDisabled = errors.New("internal API calls are disabled: no base URL configured")
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// InternalAPICaller calls endpoints of the platform relative to a base URL.
type InternalAPICaller struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewInternalAPICaller builds a caller for baseURL. headers are sent with every
// request, typically a service token.
func NewInternalAPICaller(logger *slog.Logger, baseURL string, headers map[string]string, timeout time.Duration) (*InternalAPICaller, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	return &InternalAPICaller{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  newHTTPClient(timeout),
		logger:  logger.With("module", "internal_api_caller"),
	}, nil
}

// Call sends body as JSON to endpoint. A non-2xx reply is returned as a response,
// not an error; transport failures are errors.
func (c *InternalAPICaller) Call(ctx context.Context, method, endpoint string, body any) (protocol.Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	return do(ctx, c.client, c.logger, method, url, c.headers, body)
}

// DisabledInternalAPI rejects every call. It stands in when no base URL is
// configured so that INTERNAL_API steps fail instead of reaching a random host.
type DisabledInternalAPI struct{}

func (DisabledInternalAPI) Call(context.Context, string, string, any) (protocol.Response, error) {
	return protocol.Response{}, protocol.Permanent(ErrInternalAPIDisabled)
}

// WebhookCaller calls arbitrary URLs.
type WebhookCaller struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhookCaller(logger *slog.Logger, timeout time.Duration) *WebhookCaller {
	return &WebhookCaller{
		client: newHTTPClient(timeout),
		logger: logger.With("module", "webhook_caller"),
	}
}

func (c *WebhookCaller) Call(ctx context.Context, url, method string, headers map[string]string, body any) (protocol.Response, error) {
	return do(ctx, c.client, c.logger, method, url, headers, body)
}

func do(ctx context.Context, client *http.Client, logger *slog.Logger, method, url string, headers map[string]string, body any) (protocol.Response, error) {
	if method == "" {
		method = http.MethodGet
	}

	method = strings.ToUpper(method)

	reader, isJSON, err := encodeBody(body)
	if err != nil {
		return protocol.Response{}, protocol.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return protocol.Response{}, protocol.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}

	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	logger.DebugContext(ctx, "Sending HTTP request", "method", method, "url", url)

	resp, err := client.Do(req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.DebugContext(ctx, "HTTP request completed", "method", method, "url", url, "status", resp.StatusCode, "body_length", len(data))

	return protocol.Response{Status: resp.StatusCode, Body: decodeBody(data)}, nil
}

// encodeBody sends strings verbatim and everything else as JSON.
func encodeBody(body any) (io.Reader, bool, error) {
	switch b := body.(type) {
	case nil:
		return http.NoBody, false, nil
	case string:
		return strings.NewReader(b), false, nil
	case []byte:
		return bytes.NewReader(b), false, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal body: %w", err)
		}

		return bytes.NewReader(data), true, nil
	}
}

func decodeBody(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var body any

	err := json.Unmarshal(data, &body)
	if err != nil {
		return string(data)
	}

	return body
}
