package agent

import (
	"context"
	"sync"
)

// Capture is the audio input port. Frames delivers raw 16-bit
// little-endian PCM chunks until Stop is called or the source ends, at
// which point the channel is closed.
type Capture interface {
	Start(ctx context.Context) error
	Frames() <-chan []byte
	Stop()
}

// ChanCapture is a Capture fed by pushing frames from the outside. The
// websocket transport and tests use it as the input side of a session.
type ChanCapture struct {
	frames chan []byte

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewChanCapture creates a push-fed capture with the given frame buffer.
func NewChanCapture(buffer int) *ChanCapture {
	return &ChanCapture{frames: make(chan []byte, buffer)}
}

// Start implements Capture.
func (c *ChanCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

// Frames implements Capture.
func (c *ChanCapture) Frames() <-chan []byte { return c.frames }

// Stop implements Capture. The frame channel is closed; later pushes are
// dropped.
func (c *ChanCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.frames)
}

// Push delivers one PCM frame to the session. Returns false once the
// capture is stopped or the buffer is full.
func (c *ChanCapture) Push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}
