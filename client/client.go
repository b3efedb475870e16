// Package client is the Go SDK for worker processes and status
// consumers: typed wrappers over the HTTP endpoints plus a WebSocket
// subscription for thumbnail notifications.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/engine"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

// Client talks to a thumbq server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the credential sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the server at baseURL (scheme://host[:port],
// no trailing slash).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dequeue claims the next eligible job for workerID. Returns (nil, nil)
// when the queue has no work.
func (c *Client) Dequeue(ctx context.Context, workerID string) (*job.Job, error) {
	resp, err := c.do(ctx, http.MethodPost, "/thumbnail-jobs/dequeue",
		map[string]string{"workerId": workerID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return nil, fmt.Errorf("thumbq/client: decode job: %w", err)
	}
	return &j, nil
}

// Complete reports a successful render.
func (c *Client) Complete(ctx context.Context, jobID id.JobID, thumb job.Thumbnail) error {
	resp, err := c.do(ctx, http.MethodPost, "/thumbnail-jobs/"+jobID.String()+"/complete",
		map[string]any{
			"thumbnailPath": thumb.Path,
			"sizeBytes":     thumb.SizeBytes,
			"width":         thumb.Width,
			"height":        thumb.Height,
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

// Fail reports a render failure by posting the reserved render_failed
// event, which the server routes through the retry policy.
func (c *Client) Fail(ctx context.Context, jobID id.JobID, errMsg string) error {
	return c.ReportEvent(ctx, jobID, &EventReport{
		Type:         event.TypeRenderFailed,
		ErrorMessage: errMsg,
	})
}

// EventReport is a worker-originated event.
type EventReport struct {
	Type         string          `json:"eventType"`
	Message      string          `json:"message,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ReportEvent appends an event to the job's log.
func (c *Client) ReportEvent(ctx context.Context, jobID id.JobID, report *EventReport) error {
	resp, err := c.do(ctx, http.MethodPost, "/thumbnail-jobs/"+jobID.String()+"/events", report)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return c.apiError(resp)
	}
	return nil
}

// GetJob fetches a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	resp, err := c.do(ctx, http.MethodGet, "/thumbnail-jobs/"+jobID.String(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}
	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return nil, fmt.Errorf("thumbq/client: decode job: %w", err)
	}
	return &j, nil
}

// AssetThumbnail fetches the thumbnail status for an asset.
func (c *Client) AssetThumbnail(ctx context.Context, assetID int64) (*engine.ThumbnailStatus, error) {
	resp, err := c.do(ctx, http.MethodGet,
		"/models/"+strconv.FormatInt(assetID, 10)+"/thumbnail", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}
	var ts engine.ThumbnailStatus
	if err := json.NewDecoder(resp.Body).Decode(&ts); err != nil {
		return nil, fmt.Errorf("thumbq/client: decode thumbnail status: %w", err)
	}
	return &ts, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("thumbq/client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("thumbq/client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("thumbq/client: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// apiError turns an error envelope into a typed error; 404 and 409 map
// back onto the domain sentinels so callers can use errors.Is.
func (c *Client) apiError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	msg := envelope.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w (%s)", thumbq.ErrJobNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w (%s)", thumbq.ErrInvalidTransition, msg)
	default:
		return fmt.Errorf("thumbq/client: server returned %d: %s", resp.StatusCode, msg)
	}
}
