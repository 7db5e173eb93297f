package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFprobeProber resolves audio durations by shelling out to ffprobe.
type FFprobeProber struct{}

// NewFFprobeProber returns a prober, or an error when ffprobe is not on
// the PATH.
func NewFFprobeProber() (*FFprobeProber, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, errors.New("ffprobe is required for duration probing (install ffmpeg and ensure it is in PATH)")
	}
	return &FFprobeProber{}, nil
}

// Probe implements DurationProber. url may be a local path or an HTTP URL;
// ffprobe handles both.
func (p *FFprobeProber) Probe(ctx context.Context, url string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		url,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("probe %s: %w", url, ctx.Err())
		}
		return 0, fmt.Errorf("probe %s: %w", url, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("probe %s: unparseable duration %q", url, out.String())
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
