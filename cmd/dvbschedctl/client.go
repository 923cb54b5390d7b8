package main

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/dvbsched/internal/api"
	"github.com/ManuGH/dvbsched/internal/journal"
)

// APIError is a problem response from the daemon.
type APIError struct {
	api.Problem
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (%d)", e.Title, e.Status)
	if e.ConflictingID != 0 {
		msg += fmt.Sprintf(": conflicts with timer %d", e.ConflictingID)
	} else if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Client talks to the dvbschedd HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon at base.
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Problem); err != nil || apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
			apiErr.Title = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func groupPath(group uint, suffix string) string {
	return fmt.Sprintf("/api/v1/groups/%d%s", group, suffix)
}

func (c *Client) Timers(ctx context.Context, group uint, active bool) ([]api.TimerResponse, error) {
	suffix := "/timers"
	if active {
		suffix += "/active"
	}
	var out []api.TimerResponse
	err := c.do(ctx, http.MethodGet, groupPath(group, suffix), nil, &out)
	return out, err
}

func (c *Client) AddTimer(ctx context.Context, group uint, req api.AddTimerRequest) (uint32, error) {
	var out api.CreatedResponse
	err := c.do(ctx, http.MethodPost, groupPath(group, "/timers"), req, &out)
	return out.ID, err
}

func (c *Client) AddTimerForEvent(ctx context.Context, group uint, req api.EventRequest) (uint32, error) {
	var out api.CreatedResponse
	err := c.do(ctx, http.MethodPost, groupPath(group, "/timers/from-event"), req, &out)
	return out.ID, err
}

func (c *Client) DeleteTimer(ctx context.Context, group uint, id uint64) error {
	return c.do(ctx, http.MethodDelete, groupPath(group, fmt.Sprintf("/timers/%d", id)), nil, nil)
}

func (c *Client) SetStart(ctx context.Context, group uint, id uint64, start string) (string, error) {
	var out api.OutcomeResponse
	err := c.do(ctx, http.MethodPut, groupPath(group, fmt.Sprintf("/timers/%d/start", id)), api.SetStartRequest{Start: start}, &out)
	return out.Outcome, err
}

func (c *Client) SetDuration(ctx context.Context, group uint, id uint64, minutes int) (string, error) {
	var out api.OutcomeResponse
	err := c.do(ctx, http.MethodPut, groupPath(group, fmt.Sprintf("/timers/%d/duration", id)), api.SetDurationRequest{DurationMinutes: minutes}, &out)
	return out.Outcome, err
}

func (c *Client) Coverage(ctx context.Context, group uint, req api.EventRequest) (string, error) {
	var out api.CoverageResponse
	err := c.do(ctx, http.MethodPost, groupPath(group, "/coverage"), req, &out)
	return out.Coverage, err
}

func (c *Client) Resync(ctx context.Context, group uint) (api.GroupStatus, error) {
	var out api.GroupStatus
	err := c.do(ctx, http.MethodPost, groupPath(group, "/resync"), nil, &out)
	return out, err
}

func (c *Client) Journal(ctx context.Context, q url.Values) ([]journal.Entry, error) {
	var out []journal.Entry
	path := "/api/v1/journal"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}
