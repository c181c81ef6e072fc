// Package client talks to a running kioskd over its local HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/queue"
	"github.com/kimhsiao/kiosksync/internal/telemetry"
)

// DefaultTimeout bounds every API call. Drains may take several request timeouts.
const DefaultTimeout = 2 * time.Minute

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Code       errors.ErrorCode
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client is a kioskd API client.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for addr, either host:port or a full URL.
func New(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return nil, errors.New(errors.ErrConfig, fmt.Sprintf("invalid daemon address %q", addr))
	}
	return &Client{base: u, http: &http.Client{Timeout: DefaultTimeout}}, nil
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// Status returns connectivity, queue counts and the last drain.
func (c *Client) Status(ctx context.Context) (*models.StatusReport, error) {
	var out models.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/sync/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Items returns the queued items.
func (c *Client) Items(ctx context.Context) ([]models.QueueItem, error) {
	var out []models.QueueItem
	err := c.do(ctx, http.MethodGet, "/api/sync/items", nil, &out)
	return out, err
}

// Enqueue buffers an operation and returns its id.
func (c *Client) Enqueue(ctx context.Context, req models.EnqueueRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sync/enqueue", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Run asks for a drain. A rejection is reported in the outcome, not as an error.
func (c *Client) Run(ctx context.Context) (*queue.SyncOutcome, error) {
	var out queue.SyncOutcome
	err := c.do(ctx, http.MethodPost, "/api/sync/run", nil, &out)
	var apiErr *APIError
	if err != nil && !(stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict) {
		return nil, err
	}
	return &out, nil
}

// Force drains now; offline and in-progress come back as errors.
func (c *Client) Force(ctx context.Context) (*models.SyncResult, error) {
	var out models.SyncResult
	if err := c.do(ctx, http.MethodPost, "/api/sync/force", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes one queued item.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sync/items/"+url.PathEscape(id), nil, nil)
}

// Clear empties the queue and returns how many items were dropped.
func (c *Client) Clear(ctx context.Context) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/sync/items", nil, &out)
	return out.Cleared, err
}

// LastSync returns the last drain summary, or nil when none has run.
func (c *Client) LastSync(ctx context.Context) (*models.LastSyncStatus, error) {
	var out models.LastSyncStatus
	err := c.do(ctx, http.MethodGet, "/api/sync/last", nil, &out)
	var apiErr *APIError
	if stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Abandoned lists dead-letter records, newest first. limit <= 0 lists all.
func (c *Client) Abandoned(ctx context.Context, limit int) ([]models.AbandonedItem, error) {
	path := "/api/sync/abandoned"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.AbandonedItem
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ClearAbandoned drops every dead-letter record.
func (c *Client) ClearAbandoned(ctx context.Context) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/sync/abandoned", nil, &out)
	return out.Cleared, err
}

// Metrics returns the local sync counters.
func (c *Client) Metrics(ctx context.Context) (*telemetry.Snapshot, error) {
	var out telemetry.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/sync/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetOnline pushes connectivity to a daemon in manual reachability mode.
func (c *Client) SetOnline(ctx context.Context, online bool) (bool, error) {
	var out struct {
		Online bool `json:"online"`
	}
	err := c.do(ctx, http.MethodPost, "/api/sync/online", map[string]bool{"online": online}, &out)
	return out.Online, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.ErrInvalid, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "build request path", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), reader)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "daemon unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "read response", err)
	}

	var decodeErr error
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		decodeErr = json.Unmarshal(data, out)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Code = errors.ErrorCode(body.Code)
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if decodeErr != nil {
		return errors.Wrap(errors.ErrInternal, "decode response", decodeErr)
	}
	return nil
}
