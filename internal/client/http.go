package client

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

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
)

// HTTPClient makes REST calls to the Quanta backend.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://localhost:8000").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidationError is returned when the backend rejects a request body with
// 422 Unprocessable Entity.
type ValidationError struct {
	Path   string
	Fields []protocol.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("POST %s: invalid request: %s", e.Path, strings.Join(parts, "; "))
}

// Health fetches /health.
func (c *HTTPClient) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Info fetches /api/info.
func (c *HTTPClient) Info(ctx context.Context) (*protocol.InfoResponse, error) {
	var out protocol.InfoResponse
	if err := c.get(ctx, "/api/info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit sends POST /api/research/submit. A zero priority is sent as 1.
func (c *HTTPClient) Submit(ctx context.Context, q protocol.ResearchQuery) (*protocol.WorkflowResponse, error) {
	if q.Priority == 0 {
		q.Priority = 1
	}
	var out protocol.WorkflowResponse
	if err := c.post(ctx, "/api/research/submit", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkflowStatus fetches /api/workflow/{id}/status.
func (c *HTTPClient) WorkflowStatus(ctx context.Context, workflowID string) (*protocol.WorkflowStatusResponse, error) {
	var out protocol.WorkflowStatusResponse
	if err := c.get(ctx, "/api/workflow/"+url.PathEscape(workflowID)+"/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SocketStatus fetches /api/websocket/status.
func (c *HTTPClient) SocketStatus(ctx context.Context) (*protocol.SocketStatusResponse, error) {
	var out protocol.SocketStatusResponse
	if err := c.get(ctx, "/api/websocket/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnprocessableEntity {
		var v protocol.ValidationErrorResponse
		if json.NewDecoder(resp.Body).Decode(&v) == nil && len(v.Detail) > 0 {
			return &ValidationError{Path: path, Fields: v.Detail}
		}
		return fmt.Errorf("POST %s: %d unprocessable", path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
