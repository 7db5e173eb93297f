package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dunijet/pizzavoice/pkg/menu"
)

// Server is the Dunijet Pizza site and voice API server.
type Server struct {
	config *Config
	logger *slog.Logger

	// Core components
	audio *AudioStore
	menu  *menu.Menu

	// Webhook client
	webhookClient *http.Client

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Middleware
	apiLimiter   *RateLimiter
	voiceLimiter *RateLimiter
	logging      *LoggingMiddleware
	recovery     *RecoveryMiddleware
	cors         *CORSMiddleware
	bodyLimiter  *RequestBodyLimitMiddleware

	// Metrics
	metrics *Metrics

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// Lifecycle
	done     chan struct{}
	shutdown atomic.Bool

	// Live session tracking
	liveSessions atomic.Int64
}

// NewServer creates a new server.
func NewServer(opts ...ConfigOption) (*Server, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := NewMetrics("pizzavoice")

	audio, err := NewAudioStore(config.AudioDir)
	if err != nil {
		return nil, err
	}

	var m *menu.Menu
	if config.MenuPath != "" {
		m, err = menu.Load(config.MenuPath)
		if err != nil {
			logger.Warn("menu unavailable", "path", config.MenuPath, "error", err)
		}
	}

	s := &Server{
		config:  config,
		logger:  logger,
		audio:   audio,
		menu:    m,
		metrics: metrics,
		webhookClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		done: make(chan struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now; configure per deployment
			},
		},
	}

	s.apiLimiter = NewRateLimiter("api", config.RateLimit.APIRequests, config.RateLimit.APIWindow, config.RateLimit.Enabled, logger, metrics)
	s.voiceLimiter = NewRateLimiter("voice", config.RateLimit.VoiceRequests, config.RateLimit.VoiceWindow, config.RateLimit.Enabled, logger, metrics)
	s.logging = NewLoggingMiddleware(logger, metrics)
	s.recovery = NewRecoveryMiddleware(logger, metrics)
	s.cors = NewCORSMiddleware(config.AllowedOrigins)
	s.bodyLimiter = NewRequestBodyLimitMiddleware(config.MaxRequestBodyBytes)

	s.setupRoutes()

	return s, nil
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() {
	s.mux = http.NewServeMux()

	// Health check
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Metrics
	if s.config.Observability.MetricsEnabled {
		s.mux.Handle("GET "+s.config.Observability.MetricsPath, s.metrics.Handler())
	}

	// API endpoints
	s.mux.Handle("POST /api/voice-agent", s.withMiddleware(s.voiceLimiter, http.HandlerFunc(s.handleVoiceAgent)))
	s.mux.Handle("POST /api/save-audio", s.withMiddleware(s.apiLimiter, http.HandlerFunc(s.handleSaveAudio)))
	s.mux.Handle("DELETE /api/audio-clear", s.withMiddleware(s.apiLimiter, http.HandlerFunc(s.handleAudioClear)))

	// WebSocket endpoint for live voice sessions
	s.mux.HandleFunc("GET /api/voice-live", s.handleVoiceLive)

	// Stored audio clips
	s.mux.Handle("GET /audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.audio.Dir()))))

	// Menu
	if s.menu != nil {
		s.mux.HandleFunc("GET /menu.json", s.menu.ServeJSON)
		s.mux.HandleFunc("GET /menu", s.menu.ServeHTML)
	}

	// Static site
	if s.config.PublicDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.config.PublicDir)))
	}
}

// withMiddleware wraps a handler with all middleware.
func (s *Server) withMiddleware(limiter *RateLimiter, handler http.Handler) http.Handler {
	// Apply middleware in reverse order (innermost first)
	handler = s.recovery.Recover(handler)
	handler = limiter.RateLimit(handler)
	handler = s.bodyLimiter.Limit(handler)
	handler = s.cors.Handle(handler)
	handler = s.logging.Log(handler)
	return handler
}

// Handler returns the server's root HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("server starting",
		"addr", addr,
		"webhook", s.config.WebhookURL != "",
	)

	go s.cleanupLoop()

	return s.httpServer.Serve(listener)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdown.Swap(true) {
		return nil
	}
	close(s.done)

	s.logger.Info("server shutting down")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// cleanupLoop periodically cleans up stale rate limit windows.
func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.apiLimiter.Cleanup()
			s.voiceLimiter.Cleanup()
		}
	}
}

// handleHealth handles liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleVoiceAgent forwards an utterance to the automation webhook and
// streams the reply back to the caller.
func (s *Server) handleVoiceAgent(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromContext(r.Context())

	if s.config.WebhookURL == "" {
		s.logger.Error("voice webhook URL is not configured")
		writeJSONErrorWithStatus(w, http.StatusInternalServerError, newAPIError(ErrInternal, "Voice agent is temporarily unavailable"), requestID)
		return
	}

	audioData, header, err := s.readAudioPart(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, newAPIError(ErrPayloadTooBig, "Audio payload too large"), requestID)
			return
		}
		writeJSONError(w, newAPIError(ErrInvalidRequest, err.Error()), requestID)
		return
	}

	start := time.Now()
	resp, err := s.forwardToWebhook(r.Context(), audioData, header)
	if err != nil {
		s.metrics.RecordWebhookExchange("error", time.Since(start))
		s.writeWebhookError(w, err, requestID)
		return
	}
	defer resp.Body.Close()

	s.metrics.RecordWebhookExchange(resp.Status, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		s.logger.Error("webhook returned error",
			"status", resp.StatusCode,
			"body", string(body),
		)
		writeJSONErrorWithStatus(w, http.StatusBadGateway, newAPIError(ErrUpstream, "Failed to process voice request"), requestID)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("streaming webhook reply failed", "error", err)
	}
}

// readAudioPart extracts the required multipart audio file.
func (s *Server) readAudioPart(r *http.Request) ([]byte, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(s.config.MaxRequestBodyBytes); err != nil {
		return nil, nil, fmt.Errorf("invalid multipart request: %w", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, nil, fmt.Errorf("missing audio file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, fmt.Errorf("read audio file: %w", err)
	}
	return data, header, nil
}

// forwardToWebhook posts the utterance to the configured webhook as
// multipart form data under the server's webhook timeout.
func (s *Server) forwardToWebhook(ctx context.Context, audioData []byte, header *multipart.FileHeader) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.WebhookTimeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	filename := "utterance.webm"
	if header != nil && header.Filename != "" {
		filename = header.Filename
	}
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}
	_ = writer.WriteField("timestamp", time.Now().UTC().Format(time.RFC3339))
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", "Dunijet-Pizza-Site/1.0")

	resp, err := s.webhookClient.Do(req)
	if err != nil {
		// The handler context stays live while the webhook deadline may
		// have expired; body streaming after Do needs no deadline here.
		return nil, err
	}
	return resp, nil
}

// writeWebhookError maps a webhook transport failure to an API error.
func (s *Server) writeWebhookError(w http.ResponseWriter, err error, requestID string) {
	s.logger.Error("webhook call failed", "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSONError(w, newAPIError(ErrTimeout, "Request timeout - please try again"), requestID)
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		writeJSONError(w, newAPIError(ErrTimeout, "Request timeout - please try again"), requestID)
		return
	}
	writeJSONError(w, newAPIError(ErrUpstream, "Failed to process voice request"), requestID)
}

// handleSaveAudio persists an uploaded clip in the audio directory.
func (s *Server) handleSaveAudio(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromContext(r.Context())

	if err := r.ParseMultipartForm(s.config.MaxRequestBodyBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, newAPIError(ErrPayloadTooBig, "Audio payload too large"), requestID)
			return
		}
		writeJSONError(w, newAPIError(ErrInvalidRequest, "invalid multipart request"), requestID)
		return
	}

	kind := r.FormValue("type")
	if kind != "user" && kind != "assistant" {
		writeJSONError(w, newAPIError(ErrInvalidRequest, "type must be \"user\" or \"assistant\""), requestID)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSONError(w, newAPIError(ErrInvalidRequest, "missing audio file"), requestID)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, newAPIError(ErrInternal, "failed to read audio file"), requestID)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		if kind == "assistant" {
			mimeType = "audio/mpeg"
		} else {
			mimeType = "audio/webm"
		}
	}

	clip, err := s.audio.Save(kind, data, mimeType)
	if err != nil {
		s.logger.Error("failed to store audio clip", "error", err)
		writeJSONError(w, newAPIError(ErrInternal, "failed to store audio"), requestID)
		return
	}

	s.metrics.RecordAudioStored(kind, clip.Size)
	s.logger.Info("audio clip stored",
		"filename", clip.Filename,
		"type", kind,
		"size", clip.Size,
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": clip.Filename,
		"url":      clip.URL,
		"type":     clip.Type,
		"size":     clip.Size,
		"mimeType": clip.MimeType,
	})
}

// handleAudioClear deletes every stored clip.
func (s *Server) handleAudioClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.audio.DeleteAll()
	if err != nil {
		s.logger.Error("failed to clear audio", "error", err, "deleted", deleted)
		writeJSONError(w, newAPIError(ErrInternal, "failed to clear stored audio"), requestIDFromContext(r.Context()))
		return
	}

	s.logger.Info("stored audio cleared", "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"deletedCount": deleted,
	})
}
