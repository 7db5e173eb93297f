package agent

import "fmt"

// Error represents a conversation failure with a stable kind.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error { return e.Cause }

// ErrorKind categorizes conversation failures.
type ErrorKind string

const (
	ErrCaptureUnavailable ErrorKind = "capture_unavailable"
	ErrExchangeTimeout    ErrorKind = "exchange_timeout"
	ErrExchangeFailed     ErrorKind = "exchange_failed"
	ErrUploadFailed       ErrorKind = "upload_failed"
	ErrPlaybackFailed     ErrorKind = "playback_failed"
)

// NewCaptureUnavailableError reports that audio input could not be opened.
func NewCaptureUnavailableError(cause error) *Error {
	return &Error{Kind: ErrCaptureUnavailable, Message: "audio capture unavailable", Cause: cause}
}

// NewExchangeTimeoutError reports that the webhook did not answer in time.
func NewExchangeTimeoutError(cause error) *Error {
	return &Error{Kind: ErrExchangeTimeout, Message: "voice exchange timed out", Cause: cause}
}

// NewExchangeFailedError reports a failed webhook exchange.
func NewExchangeFailedError(message string, cause error) *Error {
	return &Error{Kind: ErrExchangeFailed, Message: message, Cause: cause}
}

// NewUploadFailedError reports a failed audio persistence call.
func NewUploadFailedError(cause error) *Error {
	return &Error{Kind: ErrUploadFailed, Message: "audio upload failed", Cause: cause}
}

// NewPlaybackFailedError reports that a reply could not be played.
func NewPlaybackFailedError(cause error) *Error {
	return &Error{Kind: ErrPlaybackFailed, Message: "playback failed", Cause: cause}
}
