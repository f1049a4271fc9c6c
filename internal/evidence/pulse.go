package evidence

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbright/safeword/internal/audio"
)

const wavMediaType = "audio/wav"

// chunkSource is the capture side of PulseCapturer.
type chunkSource interface {
	Chunks() <-chan []byte
	Stop() error
}

// PulseCapturer records microphone audio through Pulse into a WAV file.
type PulseCapturer struct {
	Input    string
	Fallback string
	Clock    clock.Clock

	start func(ctx context.Context) (chunkSource, error)
}

func (p *PulseCapturer) Ext() string { return ".wav" }

func (p *PulseCapturer) open(ctx context.Context) (chunkSource, error) {
	if p.start != nil {
		return p.start(ctx)
	}
	sel, err := audio.SelectDevice(ctx, p.Input, p.Fallback)
	if err != nil {
		return nil, err
	}
	return audio.StartCapture(ctx, sel.Device, audio.CaptureOptions{MediaName: "safeword evidence"})
}

// Capture records until maxDuration elapses or ctx is cancelled, then writes
// what was heard.
func (p *PulseCapturer) Capture(ctx context.Context, path string, maxDuration time.Duration) (Clip, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	src, err := p.open(ctx)
	if err != nil {
		return Clip{}, fmt.Errorf("open microphone: %w", err)
	}
	started := clk.Now()
	timer := clk.Timer(maxDuration)
	defer timer.Stop()

	collected := make(chan []byte, 1)
	go func() {
		var pcm []byte
		for chunk := range src.Chunks() {
			pcm = append(pcm, chunk...)
		}
		collected <- pcm
	}()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = src.Stop()
	pcm := <-collected
	elapsed := clk.Since(started)

	if len(pcm) == 0 {
		return Clip{}, ErrEmptyClip
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Clip{}, fmt.Errorf("create clip: %w", err)
	}
	if err := audio.WriteWAV(f, pcm, audio.SampleRate, 1); err != nil {
		_ = f.Close()
		return Clip{}, fmt.Errorf("write wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return Clip{}, fmt.Errorf("close clip: %w", err)
	}
	return finalize(Clip{Path: path, MediaType: wavMediaType, Duration: elapsed})
}
