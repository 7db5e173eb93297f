package agent

// Event is the interface for all session events. The event stream is the
// session's only output surface: renderers (terminal, websocket) consume
// it without the session knowing anything about presentation.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionStartedEvent is emitted when listening begins.
type SessionStartedEvent struct {
	Config SessionConfig `json:"config"`
}

func (e *SessionStartedEvent) EventType() string { return "session.started" }

// SessionEndedEvent is emitted when the conversation ends.
type SessionEndedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionEndedEvent) EventType() string { return "session.ended" }

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// RecordingStartedEvent is emitted when the VAD detects speech onset.
type RecordingStartedEvent struct{}

func (e *RecordingStartedEvent) EventType() string { return "recording.started" }

// RecordingFinishedEvent is emitted when an utterance is finalized.
type RecordingFinishedEvent struct {
	DurationMs int `json:"duration_ms"`
	Bytes      int `json:"bytes"`
}

func (e *RecordingFinishedEvent) EventType() string { return "recording.finished" }

// MessageAddedEvent is emitted when a history message is stored.
type MessageAddedEvent struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	AudioURL string `json:"audio_url"`
}

func (e *MessageAddedEvent) EventType() string { return "message.added" }

// ReplyAudioEvent is emitted when an assistant reply is about to play.
// Hosted renderers fetch the URL and play it client-side.
type ReplyAudioEvent struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

func (e *ReplyAudioEvent) EventType() string { return "reply.audio" }

// PlaybackStartedEvent is emitted when playback of a clip begins.
type PlaybackStartedEvent struct {
	ID string `json:"id"`
}

func (e *PlaybackStartedEvent) EventType() string { return "playback.started" }

// PlaybackStoppedEvent is emitted when playback ends for any reason.
type PlaybackStoppedEvent struct {
	ID       string `json:"id"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (e *PlaybackStoppedEvent) EventType() string { return "playback.stopped" }

// ErrorEvent is emitted when a recoverable failure occurs. The session
// resumes listening afterwards unless it has ended.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// DebugEvent carries internal diagnostics.
type DebugEvent struct {
	Message string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }
