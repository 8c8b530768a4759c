package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/params"
)

// API endpoints and paths.
const (
	apiConvert = "/v1/convert"
	apiHealth  = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// maxErrorBody caps how much of a non-JSON error body is quoted back.
const maxErrorBody = 4096

var (
	// ErrAudioEmpty indicates a conversion request without audio.
	ErrAudioEmpty = errors.New("audio cannot be empty")
	// ErrUnexpectedContentType indicates a response that is not WAV audio.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrEmptyResponse indicates a successful response without audio.
	ErrEmptyResponse = errors.New("received empty audio data")
	// ErrServiceStatus indicates a non-OK response from the model server.
	ErrServiceStatus = errors.New("model service returned an error")
)

// HTTPClient talks to a remote voice-conversion model server.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// ConvertRequest is the JSON payload of a conversion call. Audio is sent
// base64-encoded by encoding/json.
type ConvertRequest struct {
	Audio      []byte     `json:"audio"`
	MIMEType   string     `json:"mime_type"`
	Label      string     `json:"label,omitempty"`
	Parameters params.Set `json:"parameters"`
}

// ErrorResponse is the structured error body returned by the model server.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for baseURL (scheme, host and port). The
// timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Convert posts req and returns the WAV bytes of the converted audio.
func (c *HTTPClient) Convert(ctx context.Context, req ConvertRequest) ([]byte, error) {
	if len(req.Audio) == 0 {
		return nil, ErrAudioEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiConvert, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, audio.MIMEWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to model service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType, mimeErr := audio.CanonicalMIME(resp.Header.Get(headerContentType))
	if mimeErr != nil || contentType != audio.MIMEWAV {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedContentType, audio.MIMEWAV, resp.Header.Get(headerContentType))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyResponse
	}

	return audioData, nil
}

// HealthCheck verifies that the model server is up.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check status %s", ErrServiceStatus, resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw
// body so the diagnostic is not lost.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("%w (%s): %s (code: %s)", ErrServiceStatus, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf("%w (%s): %s", ErrServiceStatus, resp.Status, string(body))
}
