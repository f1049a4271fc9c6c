// Package evidence records a short incident clip, keeps a local copy, and
// uploads it to the backend.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbright/safeword/internal/logging"
)

// DefaultMaxDuration caps a clip when none is configured.
const DefaultMaxDuration = 15 * time.Second

// ErrEmptyClip is returned when a capture produced no data.
var ErrEmptyClip = errors.New("evidence clip is empty")

// Clip is one recorded file.
type Clip struct {
	Path      string
	MediaType string
	Duration  time.Duration
	Bytes     int64
}

// Capturer records up to maxDuration into path. Cancelling ctx ends the
// recording early but still finalizes the file.
type Capturer interface {
	Capture(ctx context.Context, path string, maxDuration time.Duration) (Clip, error)
	// Ext is the file extension including the dot.
	Ext() string
}

// Uploader sends a saved clip to the backend.
type Uploader interface {
	UploadEvidence(ctx context.Context, path string, incidentID string) error
}

// MicHandoff releases the microphone for the duration of a capture.
type MicHandoff interface {
	Suspend()
	Resume()
}

// RecorderOptions wires a Recorder. Capturer is required.
type RecorderOptions struct {
	Capturer Capturer
	// Fallback runs when Capturer fails, typically audio-only.
	Fallback    Capturer
	Uploader    Uploader
	Mic         MicHandoff
	Dir         string
	MaxDuration time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Recorder runs one capture per incident.
type Recorder struct {
	capturer Capturer
	fallback Capturer
	uploader Uploader
	mic      MicHandoff
	dir      string
	max      time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	busy sync.Mutex
}

// NewRecorder builds a Recorder.
func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Recorder{
		capturer: opts.Capturer,
		fallback: opts.Fallback,
		uploader: opts.Uploader,
		mic:      opts.Mic,
		dir:      opts.Dir,
		max:      opts.MaxDuration,
		clock:    opts.Clock,
		logger:   logging.OrDiscard(opts.Logger).With("component", "evidence"),
	}
}

// Record captures a clip for incidentID, saves it under the evidence
// directory, and uploads it when an uploader is set. Only one recording runs
// at a time; an overlapping call fails immediately.
func (r *Recorder) Record(ctx context.Context, incidentID string) error {
	if r.capturer == nil {
		return errors.New("no evidence capturer configured")
	}
	if !r.busy.TryLock() {
		return errors.New("evidence recording already in progress")
	}
	defer r.busy.Unlock()

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("create evidence dir: %w", err)
	}

	resume := func() {}
	if r.mic != nil {
		r.mic.Suspend()
		var once sync.Once
		resume = func() { once.Do(r.mic.Resume) }
	}
	defer resume()

	clip, err := r.capture(ctx, incidentID)
	resume()
	if err != nil {
		return err
	}
	r.logger.Info("evidence saved",
		"incident_id", incidentID,
		"path", clip.Path,
		"bytes", clip.Bytes,
		"duration_ms", clip.Duration.Milliseconds(),
	)

	if r.uploader == nil {
		return nil
	}
	if err := r.uploader.UploadEvidence(ctx, clip.Path, incidentID); err != nil {
		return fmt.Errorf("upload evidence: %w", err)
	}
	r.logger.Info("evidence uploaded", "incident_id", incidentID)
	return nil
}

func (r *Recorder) capture(ctx context.Context, incidentID string) (Clip, error) {
	clip, err := r.captureWith(ctx, r.capturer, incidentID)
	if err == nil || r.fallback == nil || ctx.Err() != nil {
		return clip, err
	}
	r.logger.Warn("evidence capture failed; trying fallback", "incident_id", incidentID, "error", err.Error())
	return r.captureWith(ctx, r.fallback, incidentID)
}

func (r *Recorder) captureWith(ctx context.Context, c Capturer, incidentID string) (Clip, error) {
	path := filepath.Join(r.dir, clipName(incidentID, r.clock.Now())+c.Ext())
	clip, err := c.Capture(ctx, path, r.max)
	if err != nil {
		return Clip{}, fmt.Errorf("capture evidence: %w", err)
	}
	return clip, nil
}

func clipName(incidentID string, at time.Time) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, incidentID)
	if id == "" {
		id = "incident"
	}
	return "evidence-" + at.UTC().Format("20060102T150405Z") + "-" + id
}

// finalize stats path and fills Bytes.
func finalize(clip Clip) (Clip, error) {
	info, err := os.Stat(clip.Path)
	if err != nil {
		return Clip{}, fmt.Errorf("stat clip: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(clip.Path)
		return Clip{}, ErrEmptyClip
	}
	clip.Bytes = info.Size()
	return clip, nil
}
