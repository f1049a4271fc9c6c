package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueTick cueKind = iota + 1
	cueAlarm
	cueCancel
	cueSent
	cueAdvisory
)

const cueSampleRate = 16000

type tone struct {
	hz     float64
	length time.Duration
	volume float64
}

var cues = map[cueKind][]int16{
	cueTick: synthesize([]tone{
		{hz: 1046, length: 60 * time.Millisecond, volume: 0.2},
	}),
	cueAlarm: synthesize([]tone{
		{hz: 988, length: 160 * time.Millisecond, volume: 0.3},
		{hz: 784, length: 160 * time.Millisecond, volume: 0.3},
		{hz: 988, length: 160 * time.Millisecond, volume: 0.3},
		{hz: 784, length: 160 * time.Millisecond, volume: 0.3},
	}),
	cueCancel: synthesize([]tone{
		{hz: 480, length: 75 * time.Millisecond, volume: 0.18},
		{hz: 360, length: 90 * time.Millisecond, volume: 0.18},
	}),
	cueSent: synthesize([]tone{
		{hz: 740, length: 65 * time.Millisecond, volume: 0.18},
		{hz: 988, length: 90 * time.Millisecond, volume: 0.18},
	}),
	cueAdvisory: synthesize([]tone{
		{hz: 660, length: 90 * time.Millisecond, volume: 0.15},
		{hz: 660, length: 90 * time.Millisecond, volume: 0.15},
	}),
}

// playCue plays a synthesized cue through Pulse, returning early when ctx is done.
func playCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := cues[kind]
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("safeword"),
		pulse.ClientApplicationIconName("dialog-warning"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		if pos >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("safeword alert cue"),
	)
	if err != nil {
		return fmt.Errorf("create playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	return nil
}

func synthesize(parts []tone) []int16 {
	gap := sampleCount(22 * time.Millisecond)
	var pcm []int16
	for i, part := range parts {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, synthesizeTone(part)...)
	}
	return pcm
}

// synthesizeTone renders a sine with a short linear attack and release.
func synthesizeTone(t tone) []int16 {
	n := sampleCount(t.length)
	if n <= 0 || t.hz <= 0 || t.volume <= 0 {
		return nil
	}

	ramp := min(max(n/10, 1), cueSampleRate/200)
	pcm := make([]int16, n)
	for i := range n {
		env := 1.0
		if i < ramp {
			env = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			env = math.Min(env, float64(tail)/float64(ramp))
		}
		s := math.Sin(2 * math.Pi * t.hz * float64(i) / cueSampleRate)
		pcm[i] = int16(math.Round(s * t.volume * env * 32767))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
