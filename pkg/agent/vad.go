package agent

import (
	"sync"
	"time"
)

// EnergyVAD implements threshold-based voice activity detection:
// 1. Level above SilenceThreshold → recording starts (or a pending silence
//    deadline is disarmed)
// 2. Level at or below SilenceThreshold while recording → silence deadline
//    armed at now + SilenceDuration
// 3. Deadline elapsing with at least MinRecordingTime recorded → utterance
//    finalized; shorter recordings re-arm and keep waiting
//
// Decisions are frame-driven via ProcessLevel, so behavior is fully
// deterministic under an injected clock. Callers that need wall-clock
// finalization between frames call Tick from a ticker loop.
type EnergyVAD struct {
	config VADConfig

	mu              sync.Mutex
	recording       bool
	speechStarted   bool
	recordingStart  time.Time
	silenceDeadline time.Time // zero = disarmed

	// suppressed gates all transitions while the session is busy
	// processing or playing a response. Sampling continues regardless.
	suppressed func() bool

	// Callbacks for events
	onRecordingStart func(at time.Time)
	onUtteranceEnd   func(at time.Time, recorded time.Duration)
	onDebug          func(message string)

	now func() time.Time
}

// NewEnergyVAD creates a VAD with the given configuration.
func NewEnergyVAD(config VADConfig) *EnergyVAD {
	return &EnergyVAD{
		config: config,
		now:    time.Now,
	}
}

// SetCallbacks sets the event callbacks for the VAD.
func (v *EnergyVAD) SetCallbacks(
	onRecordingStart func(at time.Time),
	onUtteranceEnd func(at time.Time, recorded time.Duration),
	onDebug func(message string),
) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onRecordingStart = onRecordingStart
	v.onUtteranceEnd = onUtteranceEnd
	v.onDebug = onDebug
}

// SetSuppression installs the gate consulted before any transition.
func (v *EnergyVAD) SetSuppression(gate func() bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.suppressed = gate
}

// SetClock replaces the time source. Used by tests.
func (v *EnergyVAD) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// Recording reports whether an utterance is currently being captured.
func (v *EnergyVAD) Recording() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recording
}

// ProcessLevel feeds one level sample (0-255 average magnitude) into the
// detector and applies any transition it implies.
func (v *EnergyVAD) ProcessLevel(level float64) {
	v.mu.Lock()

	if v.suppressed != nil && v.suppressed() {
		v.mu.Unlock()
		return
	}

	now := v.now()

	if level > v.config.SilenceThreshold {
		if !v.recording {
			v.recording = true
			v.speechStarted = true
			v.recordingStart = now
			v.silenceDeadline = time.Time{}
			cb := v.onRecordingStart
			v.mu.Unlock()
			v.debug("speech onset")
			if cb != nil {
				cb(now)
			}
			return
		}
		// Speech resumed, disarm any pending silence deadline.
		v.silenceDeadline = time.Time{}
		v.mu.Unlock()
		return
	}

	if !v.recording || !v.speechStarted {
		v.mu.Unlock()
		return
	}

	if v.silenceDeadline.IsZero() {
		v.silenceDeadline = now.Add(v.config.SilenceDuration())
		v.mu.Unlock()
		return
	}

	v.finalizeIfElapsedLocked(now)
}

// Tick checks the silence deadline against the clock without a new level
// sample. Call it periodically so quiet gaps between frames still finalize.
func (v *EnergyVAD) Tick() {
	v.mu.Lock()

	if v.suppressed != nil && v.suppressed() {
		v.mu.Unlock()
		return
	}
	if !v.recording || v.silenceDeadline.IsZero() {
		v.mu.Unlock()
		return
	}

	v.finalizeIfElapsedLocked(v.now())
}

// finalizeIfElapsedLocked fires the utterance-end callback when the armed
// deadline has passed, or re-arms it when the recording is still shorter
// than MinRecordingTime. Always releases the mutex.
func (v *EnergyVAD) finalizeIfElapsedLocked(now time.Time) {
	if now.Before(v.silenceDeadline) {
		v.mu.Unlock()
		return
	}

	recorded := now.Sub(v.recordingStart)
	if recorded < v.config.MinRecordingTime() {
		v.silenceDeadline = now.Add(v.config.SilenceDuration())
		v.mu.Unlock()
		v.debug("silence elapsed below minimum recording time, re-arming")
		return
	}

	v.recording = false
	v.speechStarted = false
	v.silenceDeadline = time.Time{}
	cb := v.onUtteranceEnd
	v.mu.Unlock()

	v.debug("utterance finalized")
	if cb != nil {
		cb(now, recorded)
	}
}

// Reset clears the VAD state for a new turn.
func (v *EnergyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recording = false
	v.speechStarted = false
	v.recordingStart = time.Time{}
	v.silenceDeadline = time.Time{}
}

// debug snapshots the callback under the lock so a concurrent SetCallbacks
// is never raced. Callers must not hold v.mu.
func (v *EnergyVAD) debug(message string) {
	v.mu.Lock()
	cb := v.onDebug
	v.mu.Unlock()
	if cb != nil {
		cb(message)
	}
}
