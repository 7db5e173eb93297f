package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

const (
	micSampleRateHz = 16000
	// 20ms of s16le mono audio per frame.
	micFrameBytes = micSampleRateHz * 2 / 50
)

// ffmpegMicCapture streams microphone PCM frames through ffmpeg.
type ffmpegMicCapture struct {
	frames chan []byte

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser

	stopOnce sync.Once
}

func newFFmpegMicCapture() (*ffmpegMicCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	return &ffmpegMicCapture{frames: make(chan []byte, 32)}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (m *ffmpegMicCapture) Start(ctx context.Context) error {
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	m.cmd = cmd
	m.stdout = stdout

	go m.readLoop(stdout)
	return nil
}

func (m *ffmpegMicCapture) readLoop(stdout io.Reader) {
	defer close(m.frames)
	for {
		frame := make([]byte, micFrameBytes)
		if _, err := io.ReadFull(stdout, frame); err != nil {
			return
		}
		select {
		case m.frames <- frame:
		default:
			// Drop the frame if the session is not draining.
		}
	}
}

func (m *ffmpegMicCapture) Frames() <-chan []byte {
	return m.frames
}

func (m *ffmpegMicCapture) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.cmd != nil && m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
			_ = m.cmd.Wait()
		}
	})
}

// ffplayURLPlayer plays an audio URL with ffplay. Cancelling the context
// kills the process, which is how the session stops playback.
type ffplayURLPlayer struct {
	baseURL string
}

func newFFplayURLPlayer(baseURL string) (*ffplayURLPlayer, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	return &ffplayURLPlayer{baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (p *ffplayURLPlayer) resolve(src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	if !strings.HasPrefix(src, "/") {
		src = "/" + src
	}
	return p.baseURL + src
}

func (p *ffplayURLPlayer) Play(ctx context.Context, src string) error {
	cmd := exec.CommandContext(ctx, "ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		p.resolve(src),
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("ffplay: %w", err)
	}
	return nil
}
