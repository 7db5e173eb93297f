package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultPersistTimeout bounds one persistence call.
const DefaultPersistTimeout = 30 * time.Second

// Audio clip kinds accepted by the persistence endpoint.
const (
	KindUser      = "user"
	KindAssistant = "assistant"
)

// SavedAudio describes a clip the server stored. The server assigns the
// filename; callers never pick storage names.
type SavedAudio struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// PersistClient stores conversation audio on the server and clears it.
type PersistClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// PersistOption customizes a PersistClient.
type PersistOption func(*PersistClient)

// WithPersistHTTPClient replaces the underlying HTTP client.
func WithPersistHTTPClient(hc *http.Client) PersistOption {
	return func(c *PersistClient) { c.httpClient = hc }
}

// WithPersistTimeout replaces the per-call deadline.
func WithPersistTimeout(d time.Duration) PersistOption {
	return func(c *PersistClient) { c.timeout = d }
}

// WithPersistLogger attaches a logger.
func WithPersistLogger(logger *slog.Logger) PersistOption {
	return func(c *PersistClient) { c.logger = logger }
}

// NewPersistClient creates a client against the given API base URL.
func NewPersistClient(baseURL string, opts ...PersistOption) *PersistClient {
	c := &PersistClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newDefaultHTTPClient(),
		timeout:    DefaultPersistTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SaveAudio uploads one clip. kind is KindUser or KindAssistant; the
// server derives the stored filename from kind and mime type.
func (c *PersistClient) SaveAudio(ctx context.Context, kind string, audio []byte, mimeType string) (*SavedAudio, error) {
	if kind != KindUser && kind != KindAssistant {
		return nil, fmt.Errorf("save audio: unknown clip kind %q", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/api/save-audio"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", kind+"-audio"+extensionForMime(mimeType))
	if err != nil {
		return nil, fmt.Errorf("build save request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("build save request: %w", err)
	}
	if err := writer.WriteField("type", kind); err != nil {
		return nil, fmt.Errorf("build save request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build save request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "save audio", Err: err}
		}
		return nil, &TransportError{Op: "POST", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Op: "save audio", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var saved struct {
		Success bool `json:"success"`
		SavedAudio
	}
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return nil, fmt.Errorf("decode save response: %w", err)
	}
	if !saved.Success {
		return nil, &UpstreamError{Op: "save audio", StatusCode: resp.StatusCode, Message: "server reported failure"}
	}

	c.logger.Debug("audio saved", "type", kind, "filename", saved.Filename, "size", saved.Size)
	return &saved.SavedAudio, nil
}

// ClearAll asks the server to delete every stored clip. Callers treat
// failures as best-effort: log and move on.
func (c *PersistClient) ClearAll(ctx context.Context) (deleted int, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/api/audio-clear"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build clear request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, &TimeoutError{Op: "audio clear", Err: err}
		}
		return 0, &TransportError{Op: "DELETE", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &UpstreamError{Op: "audio clear", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var cleared struct {
		Success      bool `json:"success"`
		DeletedCount int  `json:"deletedCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cleared); err != nil {
		return 0, fmt.Errorf("decode clear response: %w", err)
	}
	return cleared.DeletedCount, nil
}
