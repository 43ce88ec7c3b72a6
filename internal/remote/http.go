package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slate360/slatesync/internal/schema"
)

// HTTPConfig holds configuration for the HTTP client.
type HTTPConfig struct {
	// BaseURL is the root of the remote API, e.g. "https://api.slate360.io".
	BaseURL string

	// APIKey is sent as the X-API-Key header on every request (optional).
	APIKey string

	// RequestTimeout bounds each individual request (default: 10s).
	RequestTimeout time.Duration

	// HTTPClient overrides the underlying client (default: http.DefaultClient
	// semantics with the request timeout applied per call).
	HTTPClient *http.Client
}

// HTTPClient talks to the remote authority over its REST API:
//
//	POST   /api/projects          create
//	PUT    /api/projects/{id}     update (full post-state, version checked)
//	DELETE /api/projects/{id}     delete (version passed as query param)
//
// A 409 response carries the canonical remote project in the body:
//
//	{"error": "version-conflict", "project": {...}}
type HTTPClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the remote authority API.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  client,
	}
}

// conflictBody is the 409 response shape.
type conflictBody struct {
	Error   string          `json:"error"`
	Project *schema.Project `json:"project,omitempty"`
}

// CreateProject implements Client.
func (c *HTTPClient) CreateProject(ctx context.Context, p *schema.Project) (*schema.Project, error) {
	return c.send(ctx, http.MethodPost, "/api/projects", p)
}

// UpdateProject implements Client.
func (c *HTTPClient) UpdateProject(ctx context.Context, p *schema.Project) (*schema.Project, error) {
	return c.send(ctx, http.MethodPut, "/api/projects/"+p.ID, p)
}

// DeleteProject implements Client.
func (c *HTTPClient) DeleteProject(ctx context.Context, id string, version int64) error {
	url := c.baseURL + "/api/projects/" + id + "?version=" + strconv.FormatInt(version, 10)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Op: "delete", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already gone remotely; delete is idempotent.
		return nil
	case resp.StatusCode == http.StatusConflict:
		return c.conflictError(id, resp.Body)
	case isTransientStatus(resp.StatusCode):
		return &TransientError{Op: "delete", Err: fmt.Errorf("remote returned %s", resp.Status)}
	default:
		return fmt.Errorf("delete of %s rejected: %s", id, resp.Status)
	}
}

func (c *HTTPClient) send(ctx context.Context, method, path string, p *schema.Project) (*schema.Project, error) {
	op := strings.ToLower(method)

	body, err := json.Marshal(stripLocalFields(p))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project %s: %w", p.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var canonical schema.Project
		if err := json.NewDecoder(resp.Body).Decode(&canonical); err != nil {
			return nil, fmt.Errorf("failed to decode canonical project: %w", err)
		}
		canonical.SetDefaults()
		return &canonical, nil
	case resp.StatusCode == http.StatusConflict:
		return nil, c.conflictError(p.ID, resp.Body)
	case isTransientStatus(resp.StatusCode):
		return nil, &TransientError{Op: op, Err: fmt.Errorf("remote returned %s", resp.Status)}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s of %s rejected: %s: %s", op, p.ID, resp.Status, strings.TrimSpace(string(msg)))
	}
}

func (c *HTTPClient) conflictError(id string, body io.Reader) error {
	var cb conflictBody
	ce := &ConflictError{ProjectID: id}
	if err := json.NewDecoder(body).Decode(&cb); err == nil && cb.Project != nil {
		cb.Project.SetDefaults()
		ce.Remote = cb.Project
		ce.RemoteVersion = cb.Project.Version
	}
	return ce
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// isTransientStatus reports whether an HTTP status should be retried.
func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// stripLocalFields clears bookkeeping the remote authority must never see.
func stripLocalFields(p *schema.Project) *schema.Project {
	c := p.Clone()
	c.SyncState = ""
	return c
}
