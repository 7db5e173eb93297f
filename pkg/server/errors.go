package server

import (
	"context"
	"encoding/json"
	"net/http"
)

// APIErrorType classifies an error returned by the HTTP API.
type APIErrorType string

const (
	ErrInvalidRequest APIErrorType = "invalid_request_error"
	ErrNotFound       APIErrorType = "not_found_error"
	ErrRateLimit      APIErrorType = "rate_limit_error"
	ErrPayloadTooBig  APIErrorType = "payload_too_large_error"
	ErrUpstream       APIErrorType = "upstream_error"
	ErrTimeout        APIErrorType = "timeout_error"
	ErrInternal       APIErrorType = "api_error"
)

// APIError is the JSON error body the server returns.
type APIError struct {
	Type      APIErrorType `json:"type"`
	Message   string       `json:"message"`
	RequestID string       `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return string(e.Type) + ": " + e.Message
}

func newAPIError(t APIErrorType, message string) *APIError {
	return &APIError{Type: t, Message: message}
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func statusForError(err *APIError) int {
	switch err.Type {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrPayloadTooBig:
		return http.StatusRequestEntityTooLarge
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, err *APIError, requestID string) {
	writeJSONErrorWithStatus(w, statusForError(err), err, requestID)
}

func writeJSONErrorWithStatus(w http.ResponseWriter, status int, err *APIError, requestID string) {
	if err == nil {
		return
	}
	if err.RequestID == "" && requestID != "" {
		err.RequestID = requestID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"type":  "error",
		"error": err,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
