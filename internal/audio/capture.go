package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// SampleRate is the capture rate in Hz.
	SampleRate = 16000
	// ChunkBytes is 20ms of 16-bit mono audio at SampleRate.
	ChunkBytes = 640
)

// CaptureOptions tunes one record stream.
type CaptureOptions struct {
	// MediaName labels the stream in the Pulse mixer.
	MediaName string
}

// Capture streams fixed-size PCM chunks from one Pulse source.
type Capture struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	done   chan struct{}

	mu      sync.Mutex
	partial []byte
	closed  bool

	writers sync.WaitGroup
	total   atomic.Int64
}

// StartCapture opens a 16 kHz mono s16le record stream on device. The stream
// stops when ctx is done.
func StartCapture(ctx context.Context, device Device, opts CaptureOptions) (*Capture, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	c := newCapture(device)
	c.client = client

	media := opts.MediaName
	if media == "" {
		media = applicationName
	}
	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(c.write), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(ChunkBytes),
		pulse.RecordMediaName(media),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create record stream: %w", err)
	}
	c.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.done:
		}
	}()
	return c, nil
}

func newCapture(device Device) *Capture {
	return &Capture{
		device: device,
		chunks: make(chan []byte, 128),
		done:   make(chan struct{}),
	}
}

// Device returns the source being recorded.
func (c *Capture) Device() Device {
	return c.device
}

// Chunks yields ChunkBytes slices; it is closed by Stop. Consumers must
// drain it or the record stream stalls.
func (c *Capture) Chunks() <-chan []byte {
	return c.chunks
}

// BytesCaptured reports the total bytes received from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.total.Load()
}

// Stop ends the stream, flushes the trailing partial chunk, and closes
// Chunks. It is safe to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	c.writers.Wait()

	c.mu.Lock()
	tail := c.partial
	c.partial = nil
	c.mu.Unlock()
	if len(tail) > 0 {
		select {
		case c.chunks <- tail:
		default:
		}
	}
	close(c.chunks)
	return nil
}

// write receives frames from Pulse and re-slices them into ChunkBytes pieces.
func (c *Capture) write(frames []byte) (int, error) {
	if len(frames) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under mu so Stop cannot start waiting in between.
	c.writers.Add(1)
	defer c.writers.Done()

	c.partial = append(c.partial, frames...)
	var ready [][]byte
	for len(c.partial) >= ChunkBytes {
		ready = append(ready, append([]byte(nil), c.partial[:ChunkBytes]...))
		c.partial = c.partial[ChunkBytes:]
	}
	c.mu.Unlock()

	c.total.Add(int64(len(frames)))
	for _, chunk := range ready {
		select {
		case c.chunks <- chunk:
		case <-c.done:
			return 0, io.EOF
		}
	}
	return len(frames), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
