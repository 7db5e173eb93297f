package agent

import (
	"sync"
	"testing"
	"time"
)

// fakeClock steps time deterministically for frame-driven VAD tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type vadRecorder struct {
	mu        sync.Mutex
	starts    int
	ends      int
	recorded  []time.Duration
}

func (r *vadRecorder) onStart(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *vadRecorder) onEnd(at time.Time, recorded time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	r.recorded = append(r.recorded, recorded)
}

func (r *vadRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.ends
}

func newTestVAD(clock *fakeClock, rec *vadRecorder) *EnergyVAD {
	vad := NewEnergyVAD(DefaultVADConfig())
	vad.SetClock(clock.Now)
	vad.SetCallbacks(rec.onStart, rec.onEnd, nil)
	return vad
}

func TestEnergyVAD_SampledConversation(t *testing.T) {
	clock := newFakeClock()
	rec := &vadRecorder{}
	vad := newTestVAD(clock, rec)

	// Levels sampled every 100ms: silence, two samples of speech onset
	// delay, then speech, then sustained silence.
	levels := []float64{0, 0, 20, 20, 20}
	for i := 0; i < 20; i++ {
		levels = append(levels, 0)
	}

	for i, level := range levels {
		if i > 0 {
			clock.Advance(100 * time.Millisecond)
		}
		vad.ProcessLevel(level)
	}

	starts, ends := rec.counts()
	if starts != 1 {
		t.Errorf("expected exactly one recording start, got %d", starts)
	}
	if ends != 1 {
		t.Errorf("expected exactly one utterance end, got %d", ends)
	}

	// Onset at t=200ms, last speech at t=400ms, silence armed at t=500ms,
	// finalized at t=2000ms. Recorded span is 1800ms, past the minimum.
	if len(rec.recorded) == 1 {
		got := rec.recorded[0]
		want := 1800 * time.Millisecond
		if got != want {
			t.Errorf("expected recorded span %v, got %v", want, got)
		}
	}
}

func TestEnergyVAD_SpeechResumeDisarmsDeadline(t *testing.T) {
	clock := newFakeClock()
	rec := &vadRecorder{}
	vad := newTestVAD(clock, rec)

	vad.ProcessLevel(50) // onset

	// 1s of silence, not enough to finalize.
	for i := 0; i < 10; i++ {
		clock.Advance(100 * time.Millisecond)
		vad.ProcessLevel(0)
	}

	// Speech resumes; the pending deadline must be disarmed.
	clock.Advance(100 * time.Millisecond)
	vad.ProcessLevel(40)

	// Another 1.5s of silence: the fresh deadline has not yet elapsed.
	for i := 0; i < 15; i++ {
		clock.Advance(100 * time.Millisecond)
		vad.ProcessLevel(0)
	}
	if _, ends := rec.counts(); ends != 0 {
		t.Fatal("utterance finalized before a full silence window elapsed")
	}

	clock.Advance(100 * time.Millisecond)
	vad.ProcessLevel(0)
	if _, ends := rec.counts(); ends != 1 {
		t.Fatal("expected utterance to finalize after full silence window")
	}
}

func TestEnergyVAD_RearmsBelowMinRecordingTime(t *testing.T) {
	clock := newFakeClock()
	rec := &vadRecorder{}
	vad := NewEnergyVAD(VADConfig{
		SilenceThreshold:   15,
		SilenceDurationMs:  200,
		MinRecordingTimeMs: 500,
	})
	vad.SetClock(clock.Now)
	vad.SetCallbacks(rec.onStart, rec.onEnd, nil)

	vad.ProcessLevel(30) // onset at t=0

	// Silence window elapses at t=300ms, before the 500ms minimum.
	// The deadline must re-arm instead of finalizing.
	for i := 0; i < 3; i++ {
		clock.Advance(100 * time.Millisecond)
		vad.ProcessLevel(0)
	}
	if _, ends := rec.counts(); ends != 0 {
		t.Fatal("utterance finalized below minimum recording time")
	}

	// By t=500ms the re-armed deadline has elapsed and the minimum is met.
	for i := 0; i < 3; i++ {
		clock.Advance(100 * time.Millisecond)
		vad.ProcessLevel(0)
	}
	if _, ends := rec.counts(); ends != 1 {
		t.Fatal("expected utterance to finalize once minimum recording time passed")
	}
}

func TestEnergyVAD_SuppressionGatesTransitions(t *testing.T) {
	clock := newFakeClock()
	rec := &vadRecorder{}
	vad := newTestVAD(clock, rec)

	suppressed := true
	vad.SetSuppression(func() bool { return suppressed })

	vad.ProcessLevel(100)
	if starts, _ := rec.counts(); starts != 0 {
		t.Fatal("recording started while suppressed")
	}

	suppressed = false
	clock.Advance(100 * time.Millisecond)
	vad.ProcessLevel(100)
	if starts, _ := rec.counts(); starts != 1 {
		t.Fatal("expected recording to start once suppression lifted")
	}
}

func TestEnergyVAD_ThresholdIsExclusive(t *testing.T) {
	clock := newFakeClock()
	rec := &vadRecorder{}
	vad := newTestVAD(clock, rec)

	// A level exactly at the threshold counts as silence.
	vad.ProcessLevel(15)
	if starts, _ := rec.counts(); starts != 0 {
		t.Fatal("level at threshold must not start recording")
	}

	vad.ProcessLevel(15.1)
	if starts, _ := rec.counts(); starts != 1 {
		t.Fatal("level above threshold must start recording")
	}
}

func TestEnergyVAD_TickFinalizesWithoutFrames(t *testing.T) {
	clock := newFakeClock()
	rec := &vadRecorder{}
	vad := newTestVAD(clock, rec)

	vad.ProcessLevel(50)
	clock.Advance(600 * time.Millisecond)
	vad.ProcessLevel(0) // arms the deadline

	// No further frames arrive; Tick alone must finalize.
	clock.Advance(1500 * time.Millisecond)
	vad.Tick()

	if _, ends := rec.counts(); ends != 1 {
		t.Fatal("expected Tick to finalize the utterance")
	}
}

func TestEnergyVAD_DebugCallbackSwapDuringProcessing(t *testing.T) {
	clock := newFakeClock()
	rec := &vadRecorder{}
	vad := newTestVAD(clock, rec)

	var mu sync.Mutex
	var messages []string
	record := func(message string) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, message)
	}
	vad.SetCallbacks(rec.onStart, rec.onEnd, record)

	// Swap the callbacks while frames are processed. Callback reads are
	// serialized under the detector's lock, so this must stay race-free.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			vad.SetCallbacks(rec.onStart, rec.onEnd, record)
		}
	}()
	for i := 0; i < 100; i++ {
		clock.Advance(100 * time.Millisecond)
		if i%2 == 0 {
			vad.ProcessLevel(50)
		} else {
			vad.ProcessLevel(0)
		}
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(messages) == 0 {
		t.Fatal("expected debug messages from speech onsets")
	}
}

func TestCalculateAverageMagnitude(t *testing.T) {
	if got := CalculateAverageMagnitude(nil); got != 0 {
		t.Errorf("empty input: expected 0, got %f", got)
	}

	silence := make([]byte, 640)
	if got := CalculateAverageMagnitude(silence); got != 0 {
		t.Errorf("silence: expected 0, got %f", got)
	}

	// Full-scale square wave maps to the top of the 0-255 range.
	loud := make([]byte, 640)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0xFF
		loud[i+1] = 0x7F
	}
	got := CalculateAverageMagnitude(loud)
	if got < 254 || got > 255 {
		t.Errorf("full-scale: expected ~255, got %f", got)
	}
}
