package speech

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/rbright/safeword/internal/config"
)

// New builds the recognizer selected by cfg.Speech.Provider.
func New(cfg config.Config, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Speech.Provider {
	case "", "google":
		opts := GoogleOptions{
			LanguageCode:    cfg.Speech.LanguageCode,
			Model:           cfg.Speech.Model,
			CredentialsFile: cfg.Speech.CredentialsFile,
			AudioInput:      cfg.Audio.Input,
			AudioFallback:   cfg.Audio.Fallback,
			Logger:          logger,
		}
		if cfg.Debug.SpeechDump {
			opts.DumpDir = filepath.Join(config.StateDir(), "debug")
		}
		return NewGoogle(opts), nil
	case "command":
		return NewCommand(cfg.Speech.Command.Argv, logger), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Speech.Provider)
	}
}
