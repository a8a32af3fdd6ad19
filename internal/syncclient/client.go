// Package syncclient is the HTTP client for settingsync-server. *Client
// implements userdata.Store.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marcus/settingsync/internal/userdata"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
)

// MachineIDHeader carries the calling machine's id on every request.
const MachineIDHeader = "X-Machine-Id"

// Client is an HTTP client for the settingsync server.
type Client struct {
	BaseURL   string
	APIKey    string
	MachineID string
	HTTP      *http.Client
}

var _ userdata.Store = (*Client)(nil)

// New creates a new sync client.
func New(baseURL, apiKey, machineID string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		MachineID: machineID,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Wire types (mirrors internal/api/resources.go, independently defined) ---

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// MeResponse is the response from GET /v1/me.
type MeResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// ResourceInfo describes one stored resource from GET /v1/resource.
type ResourceInfo struct {
	Resource  string `json:"resource"`
	Ref       string `json:"ref"`
	MachineID string `json:"machine_id,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

type readResponse struct {
	Ref     string  `json:"ref"`
	Content *string `json:"content"`
}

type writeRequest struct {
	Content string `json:"content"`
}

type writeResponse struct {
	Ref string `json:"ref"`
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if _, err := c.doRequest(ctx, "GET", "/healthz", nil, &resp, false, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Whoami returns the user the API key belongs to.
func (c *Client) Whoami(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(ctx, "GET", "/v1/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Resource methods ---

// Read fetches the latest blob for resource. When previous is set its ref is
// sent as If-None-Match and previous is returned on 304.
func (c *Client) Read(ctx context.Context, resource string, previous *userdata.UserData) (*userdata.UserData, error) {
	var headers http.Header
	if previous != nil {
		headers = http.Header{"If-None-Match": {quoteRef(userdata.RefOf(previous))}}
	}

	var resp readResponse
	status, err := c.doRequest(ctx, "GET", resourcePath(resource)+"/latest", nil, &resp, true, headers)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotModified {
		return previous, nil
	}
	if resp.Ref == "" {
		resp.Ref = userdata.NoRef
	}
	return &userdata.UserData{Ref: resp.Ref, Content: resp.Content}, nil
}

// Write replaces the blob for resource if ref is still current. A 412 from
// the server is reported as userdata.ErrPreconditionFailed.
func (c *Client) Write(ctx context.Context, resource, content, ref string) (string, error) {
	headers := http.Header{"If-Match": {quoteRef(ref)}}

	var resp writeResponse
	if _, err := c.doRequest(ctx, "POST", resourcePath(resource), writeRequest{Content: content}, &resp, true, headers); err != nil {
		return "", err
	}
	if resp.Ref == "" {
		return "", fmt.Errorf("write %s: server returned no ref", resource)
	}
	return resp.Ref, nil
}

// ListResources lists the caller's stored resources without content.
func (c *Client) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	var resp []ResourceInfo
	if err := c.do(ctx, "GET", "/v1/resource", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteAll removes every resource of the caller and returns how many were deleted.
func (c *Client) DeleteAll(ctx context.Context) (int64, error) {
	var resp deleteResponse
	if err := c.do(ctx, "DELETE", "/v1/resource", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func resourcePath(resource string) string {
	return "/v1/resource/" + url.PathEscape(resource)
}

func quoteRef(ref string) string {
	return `"` + ref + `"`
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// errorEnvelope matches the server's {"error": {...}} error body.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	_, err := c.doRequest(ctx, method, path, body, result, true, nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool, headers http.Header) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.MachineID != "" {
		req.Header.Set(MachineIDHeader, c.MachineID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotModified {
		return resp.StatusCode, nil
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// statusError maps an error response to a sentinel where one applies.
func statusError(status int, body []byte) error {
	var env errorEnvelope
	apiErr := &env.Error
	if json.Unmarshal(body, &env) != nil || apiErr.Code == "" {
		apiErr = &apiError{Code: http.StatusText(status), Message: strings.TrimSpace(string(body))}
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", userdata.ErrPreconditionFailed, apiErr.Message)
	default:
		return fmt.Errorf("HTTP %d: %w", status, apiErr)
	}
}
