// ABOUTME: Anthropic Messages API client implementing Completer over HTTPS.
// ABOUTME: Hand-rolled HTTP with api-key and version headers, no SDK.

package completion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicModel   = "claude-sonnet-4-5-20250929"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicClient calls the Anthropic Messages API directly.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// AnthropicOption customizes an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL overrides the API endpoint (used by tests and proxies).
func WithBaseURL(url string) AnthropicOption {
	return func(a *AnthropicClient) { a.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *AnthropicClient) { a.httpClient = c }
}

// NewAnthropicClient creates a Messages API client. An empty model selects the
// default analysis model.
func NewAnthropicClient(apiKey, model string, opts ...AnthropicOption) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	a := &AnthropicClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultAnthropicBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Model returns the model identifier.
func (a *AnthropicClient) Model() string {
	return a.model
}

// Complete performs one Messages API call.
func (a *AnthropicClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	body, err := encodeRequest(req, a.model, "")
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion service unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion service status %d: %s", resp.StatusCode, data)
	}

	return decodeResponse(data)
}
