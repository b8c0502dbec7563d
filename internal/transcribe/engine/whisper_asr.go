package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OutputFormat specifies the response format from the transcription API.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Minute

// WhisperASRClient implements Engine for onerahmet/openai-whisper-asr-webservice.
type WhisperASRClient struct {
	baseURL    string
	httpClient *http.Client
	output     OutputFormat
}

var _ Engine = (*WhisperASRClient)(nil)

// WhisperASROption configures the WhisperASRClient.
type WhisperASROption func(*WhisperASRClient)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) WhisperASROption {
	return func(c *WhisperASRClient) {
		c.httpClient.Timeout = d
	}
}

// WithOutputFormat sets the response format (text or json).
func WithOutputFormat(format OutputFormat) WhisperASROption {
	return func(c *WhisperASRClient) {
		c.output = format
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WhisperASROption {
	return func(c *WhisperASRClient) {
		c.httpClient = client
	}
}

// NewWhisperASRClient creates a new client for the whisper-asr-webservice.
func NewWhisperASRClient(baseURL string, opts ...WhisperASROption) *WhisperASRClient {
	c := &WhisperASRClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		output:     OutputFormatJSON,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the audio file and returns the recognized text.
func (c *WhisperASRClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL, err := c.buildURL(opts)
	if err != nil {
		return nil, &Error{Op: "build URL", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "send request", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Op:        "whisper-asr",
			Status:    resp.StatusCode,
			Transient: statusTransient(resp.StatusCode),
			Err:       errors.New(strings.TrimSpace(string(body))),
		}
	}

	result, err := c.parseResponse(resp.Body)
	if err != nil {
		return nil, &Error{Op: "parse response", Transient: true, Err: err}
	}
	if result.Language == "" && !opts.Language.IsAuto() {
		result.Language = opts.Language.Code()
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, ErrEmptyTranscript
	}
	return result, nil
}

func (c *WhisperASRClient) buildURL(opts Options) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/asr"
	}

	q := u.Query()
	q.Set("output", string(c.output))
	q.Set("task", "transcribe")
	if !opts.Language.IsAuto() {
		q.Set("language", opts.Language.Code())
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WhisperASRClient) parseResponse(body io.Reader) (*Result, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if c.output == OutputFormatText {
		return &Result{Text: strings.TrimSpace(string(data))}, nil
	}

	var resp whisperASRResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse JSON response: %w", err)
	}
	return &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
	}, nil
}

// whisperASRResponse represents the JSON response from the whisper-asr-webservice.
type whisperASRResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}
