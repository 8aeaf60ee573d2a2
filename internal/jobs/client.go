// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the per-request timeout for job operations.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for transient (5xx) failures.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff delay.
	retryMaxDelay = 8 * time.Second

	// maxResponseSize bounds response bodies to prevent memory exhaustion.
	maxResponseSize = 4 * 1024 * 1024
)

// ErrNotConfigured indicates the job-manager URL is not set.
var ErrNotConfigured = errors.New("job manager URL not configured")

// =============================================================================
// RESULT TYPES
// =============================================================================

// CreateResult is the outcome of a job creation.
type CreateResult struct {
	JobID string `json:"jobId"`
	// Result carries the raw job details payload; its shape varies by
	// provider, so URL extraction goes through ServiceURL.
	Result json.RawMessage `json:"result"`
}

// StopResult is the outcome of stopping a job.
type StopResult struct {
	Result string `json:"result"`
}

// APIError is a non-2xx response from the job manager.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("job manager error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("job manager error (%d)", e.Status)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the job manager over HTTP. Requests are rate limited
// client-side and retried with exponential backoff on 5xx responses.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates a job-manager client for the given base URL.
// credential is the redacted wallet key or API key sent with each request.
func NewClient(baseURL, credential string) *Client {
	return &Client{
		baseURL:    baseURL,
		credential: credential,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		// Job operations are rare and expensive; 2 req/s with a small
		// burst keeps accidental loops from hammering the manager.
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		maxRetries: DefaultMaxRetries,
	}
}

// SetCredential replaces the credential used for subsequent requests.
func (c *Client) SetCredential(credential string) {
	c.credential = credential
}

// CreateJob deploys a job definition to the given market with a runtime
// timeout in minutes. The definition must already be validated.
func (c *Client) CreateJob(ctx context.Context, definition json.RawMessage, marketKey string, timeoutMinutes float64) (*CreateResult, error) {
	payload := map[string]any{
		"definition":     definition,
		"marketPubKey":   marketKey,
		"timeoutMinutes": timeoutMinutes,
	}

	var result CreateResult
	if err := c.post(ctx, "/jobs/create", payload, &result); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &result, nil
}

// StopJob stops a running job.
func (c *Client) StopJob(ctx context.Context, jobID string) (*StopResult, error) {
	payload := map[string]any{"jobId": jobID}

	var result StopResult
	if err := c.post(ctx, "/jobs/stop", payload, &result); err != nil {
		return nil, fmt.Errorf("stop job: %w", err)
	}
	return &result, nil
}

// ExtendJob extends a running job's lifetime by the given number of minutes
// and returns the manager's result string.
func (c *Client) ExtendJob(ctx context.Context, jobID string, minutes float64) (string, error) {
	payload := map[string]any{
		"jobId":   jobID,
		"minutes": minutes,
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := c.post(ctx, "/jobs/extend", payload, &result); err != nil {
		return "", fmt.Errorf("extend job: %w", err)
	}
	return result.Result, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// post sends a JSON request and decodes the response into out, retrying
// transient failures.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.credential != "" {
			req.Header.Set("Authorization", "Bearer "+c.credential)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil

		case resp.StatusCode >= 500:
			// Transient; retry.
			lastErr = apiError(resp.StatusCode, respBody)
			continue

		default:
			// Client errors are not retryable.
			return apiError(resp.StatusCode, respBody)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// apiError builds an APIError from a response body, which may carry a
// structured {"error": "..."} message.
func apiError(status int, body []byte) error {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return &APIError{Status: status, Message: parsed.Error}
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &APIError{Status: status, Message: msg}
}

// backoffDelay computes the exponential backoff delay for an attempt.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
