package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator/types"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
	"github.com/trigg3rX/bls-aggregator/pkg/retry"
)

// Config holds the settings for the aggregator HTTP client
type Config struct {
	// AggregatorURL is the base URL of the aggregation service
	AggregatorURL string

	// RequestTimeout bounds each individual HTTP request
	RequestTimeout time.Duration

	// Retry controls the backoff policy. Nil uses the default policy.
	Retry *retry.Config
}

// APIError is a non-2xx response from the aggregation service
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("aggregator returned %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("aggregator returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the aggregation service HTTP API with retries
type Client struct {
	logger      logging.Logger
	baseURL     string
	httpClient  *http.Client
	retryConfig *retry.Config
}

// NewClient creates a new aggregator client
func NewClient(logger logging.Logger, config Config) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if config.AggregatorURL == "" {
		return nil, fmt.Errorf("aggregator URL cannot be empty")
	}

	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = types.RPC_TIMEOUT
	}

	retryConfig := config.Retry
	if retryConfig == nil {
		retryConfig = retry.DefaultConfig()
	}

	return &Client{
		logger:      logger,
		baseURL:     strings.TrimSuffix(config.AggregatorURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: retryConfig,
	}, nil
}

// InitTask registers a new aggregation task
func (c *Client) InitTask(ctx context.Context, req *types.InitTaskRequest) error {
	_, err := doJSON[json.RawMessage](c, ctx, http.MethodPost, "/api/v1/tasks", req)
	return err
}

// SubmitSignature submits one operator's partial signature
func (c *Client) SubmitSignature(ctx context.Context, req *types.SubmitSignatureRequest) (*types.SubmitSignatureResponse, error) {
	return doJSON[*types.SubmitSignatureResponse](c, ctx, http.MethodPost, "/api/v1/signatures", req)
}

// TaskStatus fetches a point-in-time view of one task
func (c *Client) TaskStatus(ctx context.Context, serviceID, callID uint64) (*types.TaskStatusResponse, error) {
	path := fmt.Sprintf("/api/v1/tasks/%d/%d/status", serviceID, callID)
	return doJSON[*types.TaskStatusResponse](c, ctx, http.MethodGet, path, nil)
}

// AggregatedResult fetches the submission-ready aggregate bundle
func (c *Client) AggregatedResult(ctx context.Context, serviceID, callID uint64) (*types.AggregatedResultResponse, error) {
	path := fmt.Sprintf("/api/v1/tasks/%d/%d/aggregated", serviceID, callID)
	return doJSON[*types.AggregatedResultResponse](c, ctx, http.MethodGet, path, nil)
}

// MarkSubmitted freezes a task after its aggregate was submitted
func (c *Client) MarkSubmitted(ctx context.Context, serviceID, callID uint64) error {
	path := fmt.Sprintf("/api/v1/tasks/%d/%d/submitted", serviceID, callID)
	_, err := doJSON[json.RawMessage](c, ctx, http.MethodPost, path, nil)
	return err
}

// RemoveTask drops a task from the service
func (c *Client) RemoveTask(ctx context.Context, serviceID, callID uint64) error {
	path := fmt.Sprintf("/api/v1/tasks/%d/%d", serviceID, callID)
	_, err := doJSON[json.RawMessage](c, ctx, http.MethodDelete, path, nil)
	return err
}

// Cleanup runs a manual sweep. Scope is "expired", "submitted" or "all".
func (c *Client) Cleanup(ctx context.Context, scope string) (int, error) {
	path := "/api/v1/cleanup"
	if scope != "" {
		path += "?scope=" + scope
	}
	resp, err := doJSON[*types.CleanupResponse](c, ctx, http.MethodPost, path, nil)
	if err != nil {
		return 0, err
	}
	return resp.RemovedTasks, nil
}

// Stats fetches the task partition counters
func (c *Client) Stats(ctx context.Context) (*types.ServiceStats, error) {
	return doJSON[*types.ServiceStats](c, ctx, http.MethodGet, "/api/v1/stats", nil)
}

// Health checks whether the service is reachable and healthy
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "service unhealthy"}
	}
	return nil
}

// Close releases idle client connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// apiEnvelope is the shared response wrapper of the HTTP API
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
}

// doJSON performs one API call with retries and unwraps the envelope
func doJSON[T any](c *Client, ctx context.Context, method, path string, body any) (T, error) {
	operation := func() (T, error) {
		var zero T

		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return zero, fmt.Errorf("failed to marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return zero, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return zero, fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return zero, fmt.Errorf("failed to read response: %w", err)
		}

		var envelope apiEnvelope
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return zero, fmt.Errorf("failed to parse response: %w", err)
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Message:    envelope.Error,
				Details:    envelope.Details,
			}
			// Client-side rejections never succeed on retry
			if resp.StatusCode < http.StatusInternalServerError {
				return zero, retry.Permanent(apiErr)
			}
			return zero, apiErr
		}

		var result T
		if len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, &result); err != nil {
				return zero, fmt.Errorf("failed to parse response data: %w", err)
			}
		}
		return result, nil
	}

	return retry.Retry(ctx, operation, c.retryConfig, c.logger)
}
