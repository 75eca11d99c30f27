// Package transport is the outbound half of the sync layer: it wraps
// REST calls to the task API, attaching the bearer credential and
// mapping every failure to a typed Error. The inbound push half lives
// in internal/realtime.
package transport

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

	"taskdeck/internal/domain"
	"taskdeck/internal/normalize"
)

// DefaultTimeout bounds each request when the caller does not
// configure one.
const DefaultTimeout = 10 * time.Second

// Client is a minimal task API client. The credential is fixed at
// construction; logout tears the client down and builds a fresh one.
// Configure HTTPClient before sharing the client across goroutines;
// Send never mutates it.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Credentials is the result of a register or login call.
type Credentials struct {
	AccessToken string `json:"access_token"`
}

// Register creates an account and returns a bearer credential.
func (c *Client) Register(ctx context.Context, name, email, password string) (Credentials, error) {
	body := map[string]any{"name": name, "email": email, "password": password}
	var resp Credentials
	err := c.Send(ctx, http.MethodPost, "api/register", body, &resp)
	return resp, err
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	body := map[string]any{"email": email, "password": password}
	var resp Credentials
	err := c.Send(ctx, http.MethodPost, "api/login", body, &resp)
	return resp, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var resp domain.User
	err := c.Send(ctx, http.MethodGet, "api/me", nil, &resp)
	return resp, err
}

// ListTasks fetches the full task collection. Responses pass through
// the normalizer because the server may string-encode nested fields.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var raw []map[string]any
	if err := c.Send(ctx, http.MethodGet, "api/tasks", nil, &raw); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(raw))
	for _, item := range raw {
		tasks = append(tasks, normalize.Task(item))
	}
	return tasks, nil
}

// CreateTask creates a task and returns the server-assigned record.
func (c *Client) CreateTask(ctx context.Context, title, description string) (domain.Task, error) {
	body := map[string]any{"title": title, "description": description}
	var raw map[string]any
	if err := c.Send(ctx, http.MethodPost, "api/tasks", body, &raw); err != nil {
		return domain.Task{}, err
	}
	return normalize.Task(raw), nil
}

// UpdateTask applies a partial update and returns the updated record.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var raw map[string]any
	endpoint := fmt.Sprintf("api/tasks/%s", url.PathEscape(id))
	if err := c.Send(ctx, http.MethodPut, endpoint, patch, &raw); err != nil {
		return domain.Task{}, err
	}
	return normalize.Task(raw), nil
}

// SoftDeleteTask marks a task deleted without removing it. Servers
// without the endpoint answer NotFound or MethodNotAllowed; the caller
// decides whether to fall back to DeleteTask.
func (c *Client) SoftDeleteTask(ctx context.Context, id string) (domain.Task, error) {
	body := map[string]any{"status": domain.StatusDeleted}
	var raw map[string]any
	endpoint := fmt.Sprintf("api/tasks/%s/soft-delete", url.PathEscape(id))
	if err := c.Send(ctx, http.MethodPut, endpoint, body, &raw); err != nil {
		return domain.Task{}, err
	}
	return normalize.Task(raw), nil
}

// DeleteTask removes a task entirely.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("api/tasks/%s", url.PathEscape(id))
	return c.Send(ctx, http.MethodDelete, endpoint, nil, nil)
}

// AssignTask replaces the assigned-users set for a task.
func (c *Client) AssignTask(ctx context.Context, id string, userIDs []string) (domain.Task, error) {
	body := map[string]any{"user_ids": userIDs}
	var raw map[string]any
	endpoint := fmt.Sprintf("api/tasks/%s/assign", url.PathEscape(id))
	if err := c.Send(ctx, http.MethodPost, endpoint, body, &raw); err != nil {
		return domain.Task{}, err
	}
	return normalize.Task(raw), nil
}

// ListUsers returns all users with their derived task counts.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var resp []domain.User
	err := c.Send(ctx, http.MethodGet, "api/users", nil, &resp)
	return resp, err
}

// ListHistory returns the activity timeline, normalized.
func (c *Client) ListHistory(ctx context.Context) ([]domain.HistoryEvent, error) {
	var raw []map[string]any
	if err := c.Send(ctx, http.MethodGet, "api/task-history", nil, &raw); err != nil {
		return nil, err
	}
	events := make([]domain.HistoryEvent, 0, len(raw))
	for _, item := range raw {
		events = append(events, normalize.History(item))
	}
	return events, nil
}

// Send issues one request. Any non-2xx response or network failure
// yields a *Error; timeouts map to KindNetworkError.
func (c *Client) Send(ctx context.Context, method, endpoint string, body, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return &Error{Kind: KindValidation, Message: fmt.Sprintf("encode request: %v", err)}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return &Error{Kind: KindNetworkError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &Error{Kind: KindNetworkError, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return classify(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return &Error{Kind: KindServerError, Status: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

func classify(resp *http.Response) *Error {
	data, _ := io.ReadAll(resp.Body)
	msg := errorMessage(data)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	kind := KindServerError
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = KindUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		kind = KindNotFound
	case resp.StatusCode == http.StatusMethodNotAllowed:
		kind = KindMethodNotAllowed
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		kind = KindValidation
	}
	return &Error{Kind: kind, Status: resp.StatusCode, Message: msg}
}

// errorMessage digs a human-readable message out of common error
// envelopes: {"message":...} or {"error":{"message":...}}.
func errorMessage(data []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return strings.TrimSpace(string(data))
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Error.Message
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
