package evidence

import (
	"log/slog"
	"os/exec"

	"github.com/rbright/safeword/internal/config"
)

// New builds the recorder described by cfg. Video goes through ffmpeg when
// enabled and installed; Pulse audio is the fallback or the only capturer.
func New(cfg config.Config, uploader Uploader, mic MicHandoff, logger *slog.Logger) *Recorder {
	audioOnly := &PulseCapturer{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback}
	opts := RecorderOptions{
		Capturer:    audioOnly,
		Mic:         mic,
		Dir:         cfg.Evidence.Dir,
		MaxDuration: cfg.Evidence.MaxDuration(),
		Logger:      logger,
	}
	if cfg.Evidence.Upload {
		opts.Uploader = uploader
	}

	if cfg.Evidence.Video {
		if path, err := exec.LookPath(cfg.Evidence.FFmpeg); err == nil {
			opts.Capturer = &FFmpegCapturer{Binary: path, VideoDevice: cfg.Evidence.VideoDevice}
			opts.Fallback = audioOnly
		} else if logger != nil {
			logger.Warn("ffmpeg not found; evidence will be audio only", "ffmpeg", cfg.Evidence.FFmpeg)
		}
	}
	return NewRecorder(opts)
}
