package agent

import "time"

// SessionState represents the current state of a voice conversation.
type SessionState int

const (
	// StateIdle is the initial state before the conversation is started.
	StateIdle SessionState = iota
	// StateListening is when the VAD is monitoring for user speech.
	StateListening
	// StateRecording is when an utterance is being captured.
	StateRecording
	// StateProcessing is when the utterance is being exchanged with the webhook.
	StateProcessing
	// StatePlaying is when the assistant's audio reply is being played.
	StatePlaying
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateRecording:
		return "RECORDING"
	case StateProcessing:
		return "PROCESSING"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// VADConfig configures energy-based voice activity detection.
type VADConfig struct {
	// SilenceThreshold is the level on the 0-255 magnitude scale at or
	// below which a sample counts as silence. Default: 15
	SilenceThreshold float64 `json:"silence_threshold"`

	// SilenceDurationMs is how long sustained silence must last before an
	// utterance is finalized. Default: 1500
	SilenceDurationMs int `json:"silence_duration_ms"`

	// MinRecordingTimeMs is the minimum utterance length eligible for
	// finalization. Shorter recordings keep waiting for more speech.
	// Default: 500
	MinRecordingTimeMs int `json:"min_recording_time_ms"`
}

// DefaultVADConfig returns a VADConfig with the standard thresholds.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SilenceThreshold:   15,
		SilenceDurationMs:  1500,
		MinRecordingTimeMs: 500,
	}
}

// SilenceDuration returns SilenceDurationMs as a time.Duration.
func (c VADConfig) SilenceDuration() time.Duration {
	return time.Duration(c.SilenceDurationMs) * time.Millisecond
}

// MinRecordingTime returns MinRecordingTimeMs as a time.Duration.
func (c VADConfig) MinRecordingTime() time.Duration {
	return time.Duration(c.MinRecordingTimeMs) * time.Millisecond
}

// SessionConfig holds all configuration for a conversation session.
type SessionConfig struct {
	// VAD configures silence detection.
	VAD VADConfig `json:"vad"`

	// Audio specifies the capture format.
	Audio AudioConfig `json:"audio"`

	// SettleDelay is the pause after a reply finishes playing before the
	// session resumes listening. Default: 800ms
	SettleDelay time.Duration `json:"settle_delay"`

	// ErrorResumeDelay is the pause after a failed exchange before the
	// session resumes listening. Default: 2s
	ErrorResumeDelay time.Duration `json:"error_resume_delay"`

	// ReplyPlaybackTimeout is the ceiling on a live assistant reply.
	// Default: 120s
	ReplyPlaybackTimeout time.Duration `json:"reply_playback_timeout"`

	// MaxUtteranceMs caps the utterance buffer. Default: 120000
	MaxUtteranceMs int `json:"max_utterance_ms"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		VAD:                  DefaultVADConfig(),
		Audio:                DefaultAudioConfig(),
		SettleDelay:          800 * time.Millisecond,
		ErrorResumeDelay:     2 * time.Second,
		ReplyPlaybackTimeout: 120 * time.Second,
		MaxUtteranceMs:       120000,
	}
}

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultAudioConfig returns the standard capture configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
