package agent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Player renders one audio source to completion. Play must honor context
// cancellation: when ctx is done the player stops and returns promptly.
type Player interface {
	Play(ctx context.Context, src string) error
}

// PlayerFunc adapts a function to the Player interface.
type PlayerFunc func(ctx context.Context, src string) error

func (f PlayerFunc) Play(ctx context.Context, src string) error { return f(ctx, src) }

// Playback timeout ceilings.
const (
	// HistoryPlaybackTimeout bounds replay of a stored history clip.
	HistoryPlaybackTimeout = 10 * time.Second
	// ReplyPlaybackTimeout bounds a live assistant reply.
	ReplyPlaybackTimeout = 120 * time.Second
)

// PlaybackResult describes how a playback ended.
type PlaybackResult struct {
	TimedOut bool
	Err      error
}

// PlaybackController serializes audio playback: at most one clip plays at
// a time, starting a new clip stops the current one, and requesting the
// clip that is already playing stops it instead (toggle). Every playback
// completes exactly once, whether it finished, was stopped, or hit its
// timeout ceiling.
type PlaybackController struct {
	player Player
	emit   func(Event)

	mu     sync.Mutex
	active *playback
}

type playback struct {
	id      string
	cancel  context.CancelFunc
	done    chan PlaybackResult
	stopped chan struct{}
	once    sync.Once
}

// NewPlaybackController creates a controller around the given player.
// emit may be nil when no event stream is attached.
func NewPlaybackController(player Player, emit func(Event)) *PlaybackController {
	if emit == nil {
		emit = func(Event) {}
	}
	return &PlaybackController{player: player, emit: emit}
}

// Play starts playback of src under the given id, stopping any current
// playback first. If id is already playing, the call toggles it off and
// reports started=false. The returned channel delivers the single
// completion result for a started playback.
func (c *PlaybackController) Play(ctx context.Context, id, src string, timeout time.Duration) (done <-chan PlaybackResult, started bool) {
	for {
		c.mu.Lock()
		if c.active == nil {
			break
		}
		if c.active.id == id {
			active := c.active
			c.mu.Unlock()
			active.cancel()
			return nil, false
		}
		prev := c.active
		c.mu.Unlock()
		// The replaced clip must report stopped before the new one is
		// announced, so consumers see stop(B) ahead of start(A).
		prev.cancel()
		<-prev.stopped
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	p := &playback{
		id:      id,
		cancel:  cancel,
		done:    make(chan PlaybackResult, 1),
		stopped: make(chan struct{}),
	}
	c.active = p
	c.mu.Unlock()

	c.emit(&PlaybackStartedEvent{ID: id})

	go func() {
		err := c.player.Play(pctx, src)
		timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded)
		cancel()
		c.finish(p, PlaybackResult{TimedOut: timedOut, Err: err})
	}()

	return p.done, true
}

// Stop ends the active playback, if any.
func (c *PlaybackController) Stop() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != nil {
		active.cancel()
	}
}

// ActiveID returns the id of the playing clip, or "" when idle.
func (c *PlaybackController) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.id
}

func (c *PlaybackController) finish(p *playback, result PlaybackResult) {
	p.once.Do(func() {
		c.mu.Lock()
		if c.active == p {
			c.active = nil
		}
		c.mu.Unlock()

		// Cancellation is how stops and replacements end a playback,
		// not a failure worth surfacing.
		if errors.Is(result.Err, context.Canceled) {
			result.Err = nil
		}
		if result.TimedOut {
			result.Err = nil
		}

		c.emit(&PlaybackStoppedEvent{ID: p.id, TimedOut: result.TimedOut})
		p.done <- result
		close(p.stopped)
	})
}
