package agent

import (
	"math"
	"sync"
)

// CalculateAverageMagnitude computes the mean absolute amplitude of PCM
// audio scaled to the 0-255 range used by the silence threshold.
// Input is assumed to be 16-bit signed little-endian PCM.
func CalculateAverageMagnitude(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		// Little-endian 16-bit signed integer
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		sum += math.Abs(float64(sample))
	}

	// Scale from the int16 range onto 0-255.
	return (sum / float64(samples)) / 32768.0 * 255.0
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// UtteranceBuffer accumulates PCM audio for the current utterance with a
// configurable maximum size.
type UtteranceBuffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   AudioConfig
}

// NewUtteranceBuffer creates a buffer that holds up to maxDurationMs of audio.
func NewUtteranceBuffer(config AudioConfig, maxDurationMs int) *UtteranceBuffer {
	maxBytes := config.BytesForDurationMs(maxDurationMs)
	return &UtteranceBuffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio data to the buffer.
// If the buffer would exceed maxBytes, older data is discarded.
func (b *UtteranceBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)

	// Trim from the beginning if we exceed max size
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Cut returns a copy of the buffered audio and empties the buffer.
func (b *UtteranceBuffer) Cut() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]byte, len(b.data))
	copy(result, b.data)
	b.data = b.data[:0]
	return result
}

// Len returns the current buffer size in bytes.
func (b *UtteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMs returns the current buffer duration in milliseconds.
func (b *UtteranceBuffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.DurationMs(len(b.data))
}

// Clear empties the buffer.
func (b *UtteranceBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
