package client

import (
	"bytes"
	"context"
	"encoding/base64"
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

// DefaultExchangeTimeout bounds one round trip to the automation webhook.
const DefaultExchangeTimeout = 60 * time.Second

// Reply is the webhook's answer to one utterance. Audio is nil when the
// webhook answered without an audio payload.
type Reply struct {
	Audio    []byte
	MimeType string
	Text     string
}

// HasAudio reports whether the reply carries a playable payload.
func (r *Reply) HasAudio() bool { return r != nil && len(r.Audio) > 0 }

// ExchangeClient ships recorded utterances to the voice agent endpoint
// and hands back the assistant's reply. All failures come back as typed
// errors; nothing panics across this boundary.
type ExchangeClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// ExchangeOption customizes an ExchangeClient.
type ExchangeOption func(*ExchangeClient)

// WithExchangeHTTPClient replaces the underlying HTTP client.
func WithExchangeHTTPClient(hc *http.Client) ExchangeOption {
	return func(c *ExchangeClient) { c.httpClient = hc }
}

// WithExchangeTimeout replaces the per-call deadline.
func WithExchangeTimeout(d time.Duration) ExchangeOption {
	return func(c *ExchangeClient) { c.timeout = d }
}

// WithExchangeLogger attaches a logger.
func WithExchangeLogger(logger *slog.Logger) ExchangeOption {
	return func(c *ExchangeClient) { c.logger = logger }
}

// NewExchangeClient creates a client against the given API base URL.
func NewExchangeClient(baseURL string, opts ...ExchangeOption) *ExchangeClient {
	c := &ExchangeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newDefaultHTTPClient(),
		timeout:    DefaultExchangeTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange posts one utterance and waits for the reply. Outcomes:
// a reply with audio, a reply without audio, or a typed error
// (*TimeoutError, *TransportError, *UpstreamError).
func (c *ExchangeClient) Exchange(ctx context.Context, audio []byte, mimeType string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/api/voice-agent"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := createAudioFormFile(writer, "audio", mimeType)
	if err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "voice exchange", Err: err}
		}
		return nil, &TransportError{Op: "POST", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Op: "voice exchange", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "voice exchange", Err: err}
		}
		return nil, &TransportError{Op: "POST", URL: endpoint, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	c.logger.Debug("voice exchange completed",
		"status", resp.StatusCode,
		"content_type", contentType,
		"bytes", len(payload),
		"duration_ms", time.Since(start).Milliseconds())

	return DecodeReply(resp.StatusCode, contentType, payload)
}

// webhookJSONReply mirrors the webhook's structured answer shape.
type webhookJSONReply struct {
	Success       *bool  `json:"success"`
	AudioResponse string `json:"audio_response"`
	TextResponse  string `json:"text_response"`
	Error         string `json:"error"`
}

// DecodeReply interprets a webhook response body by its declared content
// kind: binary audio passes through as a playable blob, a JSON answer may
// embed a base64 audio payload that decodes to the same blob shape, and
// anything else is a plain non-audio answer.
func DecodeReply(statusCode int, contentType string, payload []byte) (*Reply, error) {
	if strings.HasPrefix(contentType, "audio/") && len(payload) > 0 {
		return &Reply{Audio: payload, MimeType: contentType}, nil
	}

	if strings.Contains(contentType, "json") {
		var body webhookJSONReply
		if err := json.Unmarshal(payload, &body); err == nil {
			return replyFromJSON(statusCode, body)
		}
	}

	// Non-audio answer: the webhook replied with text or nothing to say.
	return &Reply{Text: strings.TrimSpace(string(payload))}, nil
}

func replyFromJSON(statusCode int, body webhookJSONReply) (*Reply, error) {
	if body.Error != "" || (body.Success != nil && !*body.Success) {
		msg := body.Error
		if msg == "" {
			msg = "webhook reported failure"
		}
		return nil, &UpstreamError{Op: "voice exchange", StatusCode: statusCode, Message: msg}
	}

	if strings.TrimSpace(body.AudioResponse) != "" {
		audio, mimeType, err := decodeEmbeddedAudio(body.AudioResponse)
		if err != nil {
			return nil, &UpstreamError{Op: "voice exchange", StatusCode: statusCode, Message: "undecodable audio_response: " + err.Error()}
		}
		return &Reply{Audio: audio, MimeType: mimeType, Text: body.TextResponse}, nil
	}

	return &Reply{Text: body.TextResponse}, nil
}

// decodeEmbeddedAudio unpacks a base64 audio_response, with or without a
// data URL prefix. Bare base64 is mp3 audio unless the prefix says
// otherwise.
func decodeEmbeddedAudio(encoded string) ([]byte, string, error) {
	encoded = strings.TrimSpace(encoded)
	mimeType := "audio/mpeg"

	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		header := encoded[len("data:"):comma]
		if mt, ok := strings.CutSuffix(header, ";base64"); ok && mt != "" {
			mimeType = mt
		}
		encoded = encoded[comma+1:]
	}

	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", err
	}
	return audio, mimeType, nil
}

func createAudioFormFile(writer *multipart.Writer, field, mimeType string) (io.Writer, error) {
	filename := "recording" + extensionForMime(mimeType)
	return writer.CreateFormFile(field, filename)
}

func extensionForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	default:
		return ".webm"
	}
}
