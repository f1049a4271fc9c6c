package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	ffmpegStopGrace = 2 * time.Second
	webmMediaType   = "video/webm"
)

// FFmpegCapturer records camera video plus Pulse audio into WebM.
type FFmpegCapturer struct {
	Binary      string
	VideoDevice string
	AudioSource string
	Clock       clock.Clock
}

func (f *FFmpegCapturer) Ext() string { return ".webm" }

func (f *FFmpegCapturer) args(path string, maxDuration time.Duration) []string {
	audioSource := f.AudioSource
	if audioSource == "" {
		audioSource = "default"
	}
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		"-f", "v4l2", "-i", f.VideoDevice,
		"-f", "pulse", "-i", audioSource,
		"-t", strconv.FormatFloat(maxDuration.Seconds(), 'f', -1, 64),
		"-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M",
		"-c:a", "libopus",
		path,
	}
}

// Capture runs ffmpeg until it exits at maxDuration or ctx is cancelled. On
// cancel ffmpeg gets SIGINT so it can close the container, then SIGKILL
// after a grace period.
func (f *FFmpegCapturer) Capture(ctx context.Context, path string, maxDuration time.Duration) (Clip, error) {
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.New()
	}

	cmd := exec.Command(binary, f.args(path, maxDuration)...)
	stderr := &strings.Builder{}
	cmd.Stderr = stderr
	cmd.WaitDelay = ffmpegStopGrace

	started := clk.Now()
	if err := cmd.Start(); err != nil {
		return Clip{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case err = <-waitErr:
		case <-time.After(ffmpegStopGrace):
			_ = cmd.Process.Kill()
			err = <-waitErr
		}
	}

	clip, statErr := finalize(Clip{Path: path, MediaType: webmMediaType, Duration: clk.Since(started)})
	if statErr != nil {
		if err != nil {
			return Clip{}, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return Clip{}, statErr
	}
	// SIGINT makes ffmpeg exit non-zero even though the file is complete.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return Clip{}, fmt.Errorf("ffmpeg: %w", err)
	}
	return clip, nil
}
