package agent

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptedPlayer blocks until its context ends or it is released.
type scriptedPlayer struct {
	mu      sync.Mutex
	playing map[string]chan struct{}
	plays   []string
}

func newScriptedPlayer() *scriptedPlayer {
	return &scriptedPlayer{playing: make(map[string]chan struct{})}
}

func (p *scriptedPlayer) Play(ctx context.Context, src string) error {
	release := make(chan struct{})
	p.mu.Lock()
	p.playing[src] = release
	p.plays = append(p.plays, src)
	p.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *scriptedPlayer) finish(src string) {
	// The playback goroutine registers the clip asynchronously; wait for
	// it so finish is not a silent no-op when called right after Play.
	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		release, ok := p.playing[src]
		if ok {
			delete(p.playing, src)
		}
		p.mu.Unlock()
		if ok {
			close(release)
			return
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *scriptedPlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

func TestPlaybackController_SingleActive(t *testing.T) {
	player := newScriptedPlayer()
	pc := NewPlaybackController(player, nil)

	firstDone, started := pc.Play(context.Background(), "a", "clip-a", time.Minute)
	if !started {
		t.Fatal("expected first playback to start")
	}

	// Starting a second clip stops the first.
	secondDone, started := pc.Play(context.Background(), "b", "clip-b", time.Minute)
	if !started {
		t.Fatal("expected second playback to start")
	}

	select {
	case result := <-firstDone:
		if result.Err != nil {
			t.Errorf("replaced playback should complete cleanly, got %v", result.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("replaced playback never completed")
	}

	if got := pc.ActiveID(); got != "b" {
		t.Errorf("expected active playback b, got %q", got)
	}

	player.finish("clip-b")
	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second playback never completed")
	}
}

func TestPlaybackController_ToggleStops(t *testing.T) {
	player := newScriptedPlayer()
	pc := NewPlaybackController(player, nil)

	done, started := pc.Play(context.Background(), "a", "clip-a", time.Minute)
	if !started {
		t.Fatal("expected playback to start")
	}

	// Requesting the same id toggles it off.
	_, started = pc.Play(context.Background(), "a", "clip-a", time.Minute)
	if started {
		t.Fatal("toggling the active clip must not start a new playback")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("toggled playback never completed")
	}
	if player.playCount() != 1 {
		t.Errorf("expected exactly one play invocation, got %d", player.playCount())
	}
	if pc.ActiveID() != "" {
		t.Error("expected no active playback after toggle")
	}
}

func TestPlaybackController_TimeoutReportsFinished(t *testing.T) {
	player := newScriptedPlayer()
	pc := NewPlaybackController(player, nil)

	done, started := pc.Play(context.Background(), "a", "clip-a", 30*time.Millisecond)
	if !started {
		t.Fatal("expected playback to start")
	}

	select {
	case result := <-done:
		if !result.TimedOut {
			t.Error("expected playback to report timeout")
		}
		if result.Err != nil {
			t.Errorf("timeout must complete as finished, got error %v", result.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed-out playback never completed")
	}
}

func TestPlaybackController_ReplacementStopsBeforeStart(t *testing.T) {
	player := newScriptedPlayer()

	var mu sync.Mutex
	var order []string
	record := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev := e.(type) {
		case *PlaybackStartedEvent:
			order = append(order, "start:"+ev.ID)
		case *PlaybackStoppedEvent:
			order = append(order, "stop:"+ev.ID)
		}
	}
	pc := NewPlaybackController(player, record)

	doneB, started := pc.Play(context.Background(), "b", "clip-b", time.Minute)
	if !started {
		t.Fatal("expected first playback to start")
	}
	doneA, started := pc.Play(context.Background(), "a", "clip-a", time.Minute)
	if !started {
		t.Fatal("expected replacement playback to start")
	}

	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("replaced playback never completed")
	}
	player.finish("clip-a")
	select {
	case <-doneA:
	case <-time.After(time.Second):
		t.Fatal("replacement playback never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"start:b", "stop:b", "start:a", "stop:a"}
	if len(order) != len(want) {
		t.Fatalf("event order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("event order = %v, want %v (the replaced clip must stop before the new one starts)", order, want)
		}
	}
}

func TestPlaybackController_CompletionIsExactlyOnce(t *testing.T) {
	player := newScriptedPlayer()
	pc := NewPlaybackController(player, nil)

	done, _ := pc.Play(context.Background(), "a", "clip-a", time.Minute)
	player.finish("clip-a")

	<-done
	pc.Stop() // stop after completion must not deliver a second result

	select {
	case _, ok := <-done:
		if ok {
			t.Fatal("completion delivered twice")
		}
	case <-time.After(50 * time.Millisecond):
	}
}
