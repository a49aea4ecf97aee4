// Package client calls a running taskwatch server for operations that need
// the server's live alarm sessions.
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

	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	"github.com/colonyops/taskwatch/internal/web"
	"github.com/colonyops/taskwatch/pkg/iojson"
	"github.com/google/uuid"
)

// Client talks to the taskwatch HTTP API.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server listening on addr, either host:port
// or a full URL.
func New(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Code    string
	Refresh bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Addr returns the base URL requests are sent to.
func (c *Client) Addr() string {
	return c.base
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// StartSession starts the owner's session on the server.
func (c *Client) StartSession(ctx context.Context, ownerID string) (web.SessionStatus, error) {
	var st web.SessionStatus
	err := c.do(ctx, http.MethodPut, ownerPath(ownerID, "session"), nil, &st)
	return st, err
}

// StopSession stops the owner's session on the server.
func (c *Client) StopSession(ctx context.Context, ownerID string) (web.SessionStatus, error) {
	var st web.SessionStatus
	err := c.do(ctx, http.MethodDelete, ownerPath(ownerID, "session"), nil, &st)
	return st, err
}

// SessionStatus returns the owner's session state.
func (c *Client) SessionStatus(ctx context.Context, ownerID string) (web.SessionStatus, error) {
	var st web.SessionStatus
	err := c.do(ctx, http.MethodGet, ownerPath(ownerID, "session"), nil, &st)
	return st, err
}

// Snooze defers the task's alarm. Zero minutes uses the server default.
func (c *Client) Snooze(ctx context.Context, ownerID, taskID string, minutes int) (taskwatch.SnoozeResult, error) {
	var res taskwatch.SnoozeResult
	err := c.do(ctx, http.MethodPost, ownerPath(ownerID, "tasks", taskID, "snooze"), web.SnoozeRequest{Minutes: minutes}, &res)
	return res, err
}

// MarkDone marks the task done through the server so its live alarm is
// closed as completed.
func (c *Client) MarkDone(ctx context.Context, ownerID, taskID string) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPost, ownerPath(ownerID, "tasks", taskID, "done"), nil, &t)
	return t, err
}

// ActiveAlarms returns the alarms held by the owner's running session.
func (c *Client) ActiveAlarms(ctx context.Context, ownerID string) ([]alarm.Alarm, error) {
	var alarms []alarm.Alarm
	err := c.do(ctx, http.MethodGet, ownerPath(ownerID, "alarms", "active"), nil, &alarms)
	return alarms, err
}

func ownerPath(ownerID string, parts ...string) string {
	segs := append([]string{"/api/v1/owners", url.PathEscape(ownerID)}, parts...)
	return strings.Join(segs, "/")
}

// do sends a request and decodes a JSON response into out. Mutations carry
// a fresh Idempotency-Key so the server can dedupe transport retries.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	var body iojson.Error
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		return apiErr
	}

	apiErr.Message = body.Message
	apiErr.Code = body.Code()
	if refresh, ok := body.Data["refresh"].(bool); ok {
		apiErr.Refresh = refresh
	}
	return apiErr
}
