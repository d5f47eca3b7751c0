package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/waterops/licensing-api/pkg/logger"
)

// Client is the interface dispatch and polling code depends on. Implemented
// by HTTPClient against GOV.UK Notify; faked in tests.
type Client interface {
	SendEmail(ctx context.Context, templateID, emailAddress string, opts SendOptions) Result
	SendLetter(ctx context.Context, templateID string, opts SendOptions) Result
	SendPrecompiledFile(ctx context.Context, content []byte, reference string) Result
	CheckStatus(ctx context.Context, notifyID string) Result
}

// SendOptions carries the optional fields of a send request.
type SendOptions struct {
	Personalisation map[string]any
	Reference       string
}

// Response is the parsed provider response body. Only the fields this
// service reads are modelled.
type Response struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content struct {
		Body    string `json:"body"`
		Subject string `json:"subject"`
	} `json:"content"`
	Errors []ErrorDetail `json:"errors"`
}

// ErrorDetail is one entry of a provider error response.
type ErrorDetail struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Result is the tagged outcome of one provider call. Exactly one of the
// success and failure views is meaningful, selected by Succeeded.
type Result struct {
	StatusCode int
	Body       Response
	Err        error
}

// Succeeded reports whether the provider accepted the request.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 400
}

// ErrorJSON serializes the failure view of the result for persistence in the
// notify_error column.
func (r Result) ErrorJSON() string {
	detail := struct {
		Status  int           `json:"status"`
		Message string        `json:"message"`
		Errors  []ErrorDetail `json:"errors"`
	}{
		Status: r.StatusCode,
		Errors: r.Body.Errors,
	}
	if r.Err != nil {
		detail.Message = r.Err.Error()
	} else if len(r.Body.Errors) > 0 {
		detail.Message = r.Body.Errors[0].Message
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return `{"message":"failed to serialize notify error"}`
	}
	return string(b)
}

// Config holds the provider connection settings.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// HTTPClient issues requests to the GOV.UK Notify REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logger.Logger
}

func NewHTTPClient(cfg Config, logger *logger.Logger) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *HTTPClient) SendEmail(ctx context.Context, templateID, emailAddress string, opts SendOptions) Result {
	payload := map[string]any{
		"template_id":   templateID,
		"email_address": emailAddress,
	}
	if opts.Personalisation != nil {
		payload["personalisation"] = opts.Personalisation
	}
	if opts.Reference != "" {
		payload["reference"] = opts.Reference
	}
	return c.post(ctx, "/v2/notifications/email", payload)
}

func (c *HTTPClient) SendLetter(ctx context.Context, templateID string, opts SendOptions) Result {
	payload := map[string]any{
		"template_id": templateID,
	}
	if opts.Personalisation != nil {
		payload["personalisation"] = opts.Personalisation
	}
	if opts.Reference != "" {
		payload["reference"] = opts.Reference
	}
	return c.post(ctx, "/v2/notifications/letter", payload)
}

func (c *HTTPClient) SendPrecompiledFile(ctx context.Context, content []byte, reference string) Result {
	payload := map[string]any{
		"reference": reference,
		"content":   content, // base64-encoded by json.Marshal
	}
	return c.post(ctx, "/v2/notifications/letter", payload)
}

func (c *HTTPClient) CheckStatus(ctx context.Context, notifyID string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/notifications/"+notifyID, nil)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to build status request: %w", err)}
	}
	return c.do(req)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload map[string]any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) Result {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("notify request failed: %w", err)}
	}
	defer resp.Body.Close()

	result := Result{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&result.Body); err != nil {
		c.logger.Debug("failed to decode notify response", "status", resp.StatusCode)
	}
	return result
}
