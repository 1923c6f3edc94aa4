// Package vonage is a minimal REST client for the Vonage voice API,
// covering the commands this application issues: call creation, hangup,
// leg recording, in-call audio streaming and post-call artifact download.
//
// Every call is asynchronous from the orchestration's perspective: a 2xx
// only means the provider accepted the command, never that a leg reached
// the requested state. State changes arrive later as webhooks.
package vonage

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Endpoint is a call destination or origin
type Endpoint struct {
	Type        string `json:"type"`
	Number      string `json:"number,omitempty"`
	URI         string `json:"uri,omitempty"`
	ContentType string `json:"content-type,omitempty"`
}

// PhoneEndpoint creates a phone endpoint
func PhoneEndpoint(number string) Endpoint {
	return Endpoint{Type: "phone", Number: number}
}

// WebsocketEndpoint creates a media-stream endpoint. The content type is
// fixed: the processor expects 16 kHz linear PCM.
func WebsocketEndpoint(uri string) Endpoint {
	return Endpoint{Type: "websocket", URI: uri, ContentType: "audio/l16;rate=16000"}
}

// CreateCallRequest is the body of POST /v1/calls
type CreateCallRequest struct {
	To           []Endpoint `json:"to"`
	From         Endpoint   `json:"from"`
	AnswerURL    []string   `json:"answer_url"`
	AnswerMethod string     `json:"answer_method,omitempty"`
	EventURL     []string   `json:"event_url"`
	EventMethod  string     `json:"event_method,omitempty"`
	Limit        int        `json:"limit,omitempty"` // max call duration in seconds
}

// CreateCallResponse is the provider's acknowledgement of a created call
type CreateCallResponse struct {
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	Direction        string `json:"direction"`
	ConversationUUID string `json:"conversation_uuid"`
}

// RecordingOptions configures a leg recording
type RecordingOptions struct {
	Split         bool                  `json:"split"`
	Streamed      bool                  `json:"streamed"`
	Public        bool                  `json:"public"`
	ValidityTime  int                   `json:"validity_time"`
	Format        string                `json:"format"`
	Transcription *TranscriptionOptions `json:"transcription,omitempty"`
}

// TranscriptionOptions enables provider-side transcription of a recording
type TranscriptionOptions struct {
	Language          string `json:"language"`
	SentimentAnalysis bool   `json:"sentiment_analysis,omitempty"`
}

// DefaultRecordingOptions matches the leg-recording settings of the
// original call flows
func DefaultRecordingOptions() RecordingOptions {
	return RecordingOptions{
		Split:        true,
		Streamed:     true,
		Public:       true,
		ValidityTime: 30,
		Format:       "mp3",
	}
}

// Config configures the client
type Config struct {
	AppID      string
	PrivateKey []byte // PEM-encoded RSA key
	BaseURL    string
	HTTPClient *http.Client
}

// Client issues control commands against the provider's REST API
type Client struct {
	appID      string
	privateKey *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a provider client. An unparseable private key is a
// configuration error and fails construction.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("application id is required")
	}
	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.nexmo.com"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		appID:      cfg.AppID,
		privateKey: key,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreateCall asks the provider to originate a new leg (phone or websocket)
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (*CreateCallResponse, error) {
	var resp CreateCallResponse
	if err := c.do(ctx, http.MethodPost, "/v1/calls", req, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Hangup terminates a leg. A leg that no longer exists or already ended is
// a successful no-op; provider webhooks are delivered more than once and
// transfers hang up legs that may have dropped on their own.
func (c *Client) Hangup(ctx context.Context, legID string) error {
	body := map[string]string{"action": "hangup"}
	err := c.do(ctx, http.MethodPut, "/v1/calls/"+legID, body, nil, nil)
	return ignoreGone(err)
}

// StartRecording starts a leg recording. Recording an unknown leg is a
// no-op for the same reason as Hangup.
func (c *Client) StartRecording(ctx context.Context, legID string, opts RecordingOptions) error {
	err := c.do(ctx, http.MethodPost, "/v1/legs/"+legID+"/recording", opts, nil, nil)
	return ignoreGone(err)
}

// StreamAudio plays an audio file into a leg. loop 0 repeats until stopped.
func (c *Client) StreamAudio(ctx context.Context, legID, streamURL string, loop int, level float64) error {
	body := map[string]interface{}{
		"stream_url": []string{streamURL},
		"loop":       loop,
		"level":      fmt.Sprintf("%.1f", level),
	}
	return c.do(ctx, http.MethodPut, "/v1/calls/"+legID+"/stream", body, nil, nil)
}

// StopStreamAudio stops a running audio stream. No active stream is a
// successful no-op.
func (c *Client) StopStreamAudio(ctx context.Context, legID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/calls/"+legID+"/stream", nil, nil, nil)
	return ignoreGone(err)
}

// DownloadRecording fetches a completed recording from its destination URL
func (c *Client) DownloadRecording(ctx context.Context, url string) (io.ReadCloser, error) {
	return c.download(ctx, url)
}

// DownloadTranscript fetches a completed transcription
func (c *Client) DownloadTranscript(ctx context.Context, url string) (io.ReadCloser, error) {
	return c.download(ctx, url)
}

func (c *Client) download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	token, err := mintToken(c.appID, c.privateKey)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, classify(resp.StatusCode, readBody(resp.Body))
	}
	return resp.Body, nil
}

// do executes one authenticated API request. extraPath queries attach to
// the base URL.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	token, err := mintToken(c.appID, c.privateKey)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp.StatusCode, readBody(resp.Body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// classify maps a non-2xx status to the error taxonomy
func classify(status int, body string) error {
	apiErr := &APIError{Status: status, Body: body}
	if status >= 500 || status == http.StatusTooManyRequests {
		return &TransientError{Err: apiErr}
	}
	return apiErr
}

// ignoreGone treats 404 responses as successful no-ops
func ignoreGone(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(data)
}
