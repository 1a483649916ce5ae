// -----------------------------------------------------------------------
// Remote Job Client - HTTP implementation of the crawl service contract
// -----------------------------------------------------------------------

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/models"
)

// Client talks to the remote crawling service over its REST API.
// All job execution happens on the remote side; this client only
// submits, reads status, and requests cancellation.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates a remote job client with a request timeout
func NewClient(baseURL, apiKey string, timeout time.Duration, logger arbor.ILogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type submitRequest struct {
	TargetID string            `json:"target_id"`
	Options  models.JobOptions `json:"options,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type listActiveResponse struct {
	Jobs []interfaces.ActiveJob `json:"jobs"`
}

// Submit starts a job for a target on the remote service
func (c *Client) Submit(ctx context.Context, targetID string, options models.JobOptions) (string, error) {
	body, err := json.Marshal(submitRequest{TargetID: targetID, Options: options})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", &interfaces.RemoteError{
			Code:    models.ErrorCodeUnknown,
			Message: "remote service returned no job ID",
		}
	}

	c.logger.Debug().
		Str("target_id", targetID).
		Str("job_id", resp.JobID).
		Msg("Job submitted to remote service")

	return resp.JobID, nil
}

// FetchStatus reads the current snapshot of a remote job. Idempotent;
// safe to call after the job is terminal.
func (c *Client) FetchStatus(ctx context.Context, remoteJobID string) (*interfaces.JobSnapshot, error) {
	var snapshot interfaces.JobSnapshot
	path := "/api/jobs/" + url.PathEscape(remoteJobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Cancel requests remote cancellation of a job. Best-effort by contract;
// callers treat any outcome as "cancellation requested".
func (c *Client) Cancel(ctx context.Context, remoteJobID string) error {
	path := "/api/jobs/" + url.PathEscape(remoteJobID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListActive returns the jobs the remote service reports as in flight
// for a scope. Used by the recovery reconciler.
func (c *Client) ListActive(ctx context.Context, scopeID string) ([]interfaces.ActiveJob, error) {
	path := "/api/jobs/active?scope=" + url.QueryEscape(scopeID)
	var resp listActiveResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// do executes one request and decodes the response into out (if non-nil).
// Non-2xx responses are converted to RemoteError with the service's
// error code when the body carries one.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode remote response: %w", err)
	}
	return nil
}

// errorFromResponse maps an error response body to a RemoteError
func (c *Client) errorFromResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.ErrorCode != "" {
		return &interfaces.RemoteError{
			Code:    errResp.ErrorCode,
			Message: errResp.ErrorMessage,
		}
	}

	return &interfaces.RemoteError{
		Code:    models.ErrorCodeUnknown,
		Message: fmt.Sprintf("remote service returned status %d", resp.StatusCode),
	}
}
