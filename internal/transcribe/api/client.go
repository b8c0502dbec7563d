package api

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

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/capture"
)

// DefaultClientTimeout bounds a single request to the running service.
const DefaultClientTimeout = 30 * time.Second

// StatusError is returned when the service answers with an error envelope.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service returned %d", e.Status)
	}
	return fmt.Sprintf("service returned %d: %s", e.Status, e.Message)
}

// Client talks to a running memoscribe service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
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

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &StatusError{Status: resp.StatusCode, Message: "unreadable response"}
	}
	if !env.Success || resp.StatusCode >= 400 {
		return &StatusError{Status: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Ping reports whether the service answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Status returns the transcript and job summary together with the control state.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// State returns the control state.
func (c *Client) State(ctx context.Context) (transcribe.ControlState, error) {
	var out transcribe.ControlState
	err := c.do(ctx, http.MethodGet, "/api/control/state", nil, &out)
	return out, err
}

// StartWatching asks the service to attach its watcher.
func (c *Client) StartWatching(ctx context.Context) (transcribe.ControlState, error) {
	var out transcribe.ControlState
	err := c.do(ctx, http.MethodPost, "/api/control/watching/start", nil, &out)
	return out, err
}

// StopWatching asks the service to detach its watcher.
func (c *Client) StopWatching(ctx context.Context) (transcribe.ControlState, error) {
	var out transcribe.ControlState
	err := c.do(ctx, http.MethodPost, "/api/control/watching/stop", nil, &out)
	return out, err
}

// StartCapture starts recording system audio.
func (c *Client) StartCapture(ctx context.Context) (capture.Session, error) {
	var out capture.Session
	err := c.do(ctx, http.MethodPost, "/api/control/capture/start", nil, &out)
	return out, err
}

// StopCapture stops recording system audio.
func (c *Client) StopCapture(ctx context.Context) (capture.Session, error) {
	var out capture.Session
	err := c.do(ctx, http.MethodPost, "/api/control/capture/stop", nil, &out)
	return out, err
}

// SetLanguage sets the language mode for new jobs.
func (c *Client) SetLanguage(ctx context.Context, mode string) (transcribe.ControlState, error) {
	var out transcribe.ControlState
	err := c.do(ctx, http.MethodPut, "/api/control/language", LanguageRequest{Mode: mode}, &out)
	return out, err
}

// Submit enqueues a file by path.
func (c *Client) Submit(ctx context.Context, path string) (domain.SubmitResult, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/control/submit", SubmitRequest{Path: path}, &out)
	return out.Result, err
}

// Resubmit re-queues a known recording.
func (c *Client) Resubmit(ctx context.Context, recordingID string) (domain.SubmitResult, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/control/submit", SubmitRequest{RecordingID: recordingID}, &out)
	return out.Result, err
}

// List returns transcripts ordered by key and order.
func (c *Client) List(ctx context.Context, key domain.SortKey, order domain.Order) ([]domain.Transcript, error) {
	q := url.Values{"sort": {string(key)}, "order": {string(order)}}
	var out []domain.Transcript
	err := c.do(ctx, http.MethodGet, "/api/transcripts?"+q.Encode(), nil, &out)
	return out, err
}

// Search returns transcripts matching query.
func (c *Client) Search(ctx context.Context, query string) ([]domain.Transcript, error) {
	q := url.Values{"q": {query}}
	var out []domain.Transcript
	err := c.do(ctx, http.MethodGet, "/api/transcripts/search?"+q.Encode(), nil, &out)
	return out, err
}

// FetchMany returns the transcripts for ids in the order given.
func (c *Client) FetchMany(ctx context.Context, ids []string) ([]domain.Transcript, error) {
	var out []domain.Transcript
	err := c.do(ctx, http.MethodPost, "/api/transcripts/batch", BatchRequest{IDs: ids}, &out)
	return out, err
}
