package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dunijet/pizzavoice/pkg/client"
	"github.com/dunijet/pizzavoice/pkg/history"
)

// Exchanger ships one finished utterance to the automation webhook and
// returns the assistant's reply.
type Exchanger interface {
	Exchange(ctx context.Context, audio []byte, mimeType string) (*client.Reply, error)
}

// Persister stores conversation audio server-side.
type Persister interface {
	SaveAudio(ctx context.Context, kind string, audio []byte, mimeType string) (*client.SavedAudio, error)
}

// Recorder appends finished turns to the conversation history.
type Recorder interface {
	Append(msg history.Message) error
}

// vadTickInterval drives silence-deadline checks between audio frames.
const vadTickInterval = 100 * time.Millisecond

// Session is the orchestrator for one voice conversation. It wires the
// capture stream into the VAD, runs the utterance pipeline (persist,
// exchange, persist reply, play), and loops back to listening.
type Session struct {
	config SessionConfig

	capture   Capture
	exchanger Exchanger
	persister Persister
	recorder  Recorder
	playback  *PlaybackController
	vad       *EnergyVAD
	buffer    *UtteranceBuffer

	// State
	mu    sync.RWMutex
	state SessionState

	// Busy flags gate the VAD while an utterance is in flight.
	processing atomic.Bool
	playing    atomic.Bool

	// generation invalidates async completions from superseded turns.
	generation atomic.Int64

	// Channels
	events chan Event
	done   chan struct{}
	closed atomic.Bool

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithRecorder attaches a history recorder.
func WithRecorder(r Recorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// WithSessionLogger attaches a logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a conversation session. player renders assistant
// replies; capture supplies the microphone stream.
func NewSession(
	config SessionConfig,
	capture Capture,
	exchanger Exchanger,
	persister Persister,
	player Player,
	opts ...SessionOption,
) *Session {
	s := &Session{
		config:    config,
		capture:   capture,
		exchanger: exchanger,
		persister: persister,
		vad:       NewEnergyVAD(config.VAD),
		buffer:    NewUtteranceBuffer(config.Audio, config.MaxUtteranceMs),
		state:     StateIdle,
		events:    make(chan Event, 100),
		done:      make(chan struct{}),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.playback = NewPlaybackController(player, s.emit)

	s.vad.SetSuppression(func() bool {
		return s.processing.Load() || s.playing.Load()
	})
	s.vad.SetCallbacks(
		func(at time.Time) { s.onRecordingStart() },
		func(at time.Time, recorded time.Duration) { s.onUtteranceEnd(recorded) },
		func(message string) { s.emit(&DebugEvent{Message: message}) },
	)

	return s
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Events returns the channel for receiving session events. Consumers
// should select on Done() as well; the channel is never closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Playback exposes the playback controller for history replay.
func (s *Session) Playback() *PlaybackController {
	return s.playback
}

// Start opens the capture source and begins listening. A capture failure
// leaves the session idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.capture.Start(s.ctx); err != nil {
		capErr := NewCaptureUnavailableError(err)
		s.emit(&ErrorEvent{Kind: string(capErr.Kind), Message: capErr.Error()})
		return capErr
	}

	go s.audioLoop()
	go s.tickLoop()

	s.setState(StateListening)
	s.emit(&SessionStartedEvent{Config: s.config})
	return nil
}

// End stops the conversation from any state: capture and playback are
// stopped, in-flight completions are discarded, and the session returns
// to idle.
func (s *Session) End(reason string) {
	if s.closed.Swap(true) {
		return
	}

	s.generation.Add(1)
	if s.cancel != nil {
		s.cancel()
	}
	s.capture.Stop()
	s.playback.Stop()
	s.vad.Reset()
	s.buffer.Clear()
	s.processing.Store(false)
	s.playing.Store(false)

	s.setState(StateIdle)
	s.emit(&SessionEndedEvent{Reason: reason})
	close(s.done)
}

// audioLoop drains capture frames, feeding levels to the VAD and PCM to
// the utterance buffer while recording.
func (s *Session) audioLoop() {
	for frame := range s.capture.Frames() {
		if s.closed.Load() {
			return
		}
		level := CalculateAverageMagnitude(frame)
		s.vad.ProcessLevel(level)
		// Buffer after ProcessLevel so the onset frame is included.
		if s.vad.Recording() {
			s.buffer.Write(frame)
		}
	}
}

// tickLoop fires the VAD silence deadline when the capture goes quiet
// between frames.
func (s *Session) tickLoop() {
	ticker := time.NewTicker(vadTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.vad.Tick()
		}
	}
}

func (s *Session) onRecordingStart() {
	s.setState(StateRecording)
	s.emit(&RecordingStartedEvent{})
}

func (s *Session) onUtteranceEnd(recorded time.Duration) {
	pcm := s.buffer.Cut()
	s.processing.Store(true)
	s.setState(StateProcessing)
	s.emit(&RecordingFinishedEvent{
		DurationMs: int(recorded.Milliseconds()),
		Bytes:      len(pcm),
	})

	gen := s.generation.Add(1)
	go s.processUtterance(gen, pcm)
}

// processUtterance runs the full pipeline for one finished utterance.
func (s *Session) processUtterance(gen int64, pcm []byte) {
	wav := PCMToWAV(pcm, s.config.Audio)
	const mimeType = "audio/wav"

	// Persist the user clip. Failure skips the history entry but never
	// aborts the exchange.
	var userMsg *history.Message
	if saved, err := s.persister.SaveAudio(s.ctx, client.KindUser, wav, mimeType); err != nil {
		s.logger.Warn("user audio upload failed", "error", err)
	} else {
		msg := history.NewMessage(history.RoleUser, "", saved.URL)
		userMsg = &msg
	}
	if !s.alive(gen) {
		return
	}
	if userMsg != nil {
		s.record(*userMsg)
	}

	reply, err := s.exchanger.Exchange(s.ctx, wav, mimeType)
	if !s.alive(gen) {
		return
	}
	if err != nil {
		s.emitExchangeError(err)
		s.resumeListening(gen, s.config.ErrorResumeDelay)
		return
	}

	if !reply.HasAudio() {
		// Nothing to play; go straight back to listening.
		s.resumeListening(gen, 0)
		return
	}

	saved, err := s.persister.SaveAudio(s.ctx, client.KindAssistant, reply.Audio, reply.MimeType)
	if !s.alive(gen) {
		return
	}
	if err != nil {
		upErr := NewUploadFailedError(err)
		s.emit(&ErrorEvent{Kind: string(upErr.Kind), Message: upErr.Error()})
		s.resumeListening(gen, s.config.ErrorResumeDelay)
		return
	}

	msg := history.NewMessage(history.RoleAssistant, reply.Text, saved.URL)
	s.record(msg)
	s.emit(&ReplyAudioEvent{URL: saved.URL, MimeType: saved.MimeType})

	s.playing.Store(true)
	s.processing.Store(false)
	s.setState(StatePlaying)

	done, started := s.playback.Play(s.ctx, msg.ID, saved.URL, s.config.ReplyPlaybackTimeout)
	if started {
		select {
		case result := <-done:
			if result.Err != nil {
				playErr := NewPlaybackFailedError(result.Err)
				s.emit(&ErrorEvent{Kind: string(playErr.Kind), Message: playErr.Error()})
			}
		case <-s.done:
			return
		}
	}
	s.playing.Store(false)

	s.resumeListening(gen, s.config.SettleDelay)
}

// resumeListening returns to the listening state after an optional delay,
// unless the session ended or a newer turn took over.
func (s *Session) resumeListening(gen int64, delay time.Duration) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.done:
			return
		}
	}
	if !s.alive(gen) {
		return
	}
	s.processing.Store(false)
	s.playing.Store(false)
	s.vad.Reset()
	s.setState(StateListening)
}

// alive reports whether completions for the given turn may still apply.
func (s *Session) alive(gen int64) bool {
	return !s.closed.Load() && s.generation.Load() == gen
}

func (s *Session) record(msg history.Message) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Append(msg); err != nil {
		s.logger.Warn("history append failed", "error", err)
		return
	}
	s.emit(&MessageAddedEvent{ID: msg.ID, Role: msg.Role, AudioURL: msg.AudioURL})
}

func (s *Session) emitExchangeError(err error) {
	var agentErr *Error
	var timeoutErr *client.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		agentErr = NewExchangeTimeoutError(err)
	default:
		agentErr = NewExchangeFailedError("voice exchange failed", err)
	}
	s.logger.Warn("exchange failed", "kind", agentErr.Kind, "error", err)
	s.emit(&ErrorEvent{Kind: string(agentErr.Kind), Message: agentErr.Error()})
}

func (s *Session) setState(newState SessionState) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	s.mu.Unlock()

	if oldState != newState {
		s.emit(&StateChangedEvent{From: oldState, To: newState})
	}
}

// emit sends an event to the events channel, dropping it when no
// consumer keeps up.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}
