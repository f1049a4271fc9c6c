package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
//
// A .env file beside the config is loaded first without overriding variables
// already present in the environment; SAFEWORD_* overrides are applied last.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(resolvedPath), ".env")); err != nil {
		return Loaded{}, err
	}

	cfg := Default()
	warnings := make([]Warning, 0)
	exists := true

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		exists = false
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		var parseWarnings []Warning
		cfg, parseWarnings, err = decode(string(content), cfg)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		warnings = append(warnings, parseWarnings...)
	}

	if err := applyEnv(&cfg); err != nil {
		return Loaded{}, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("validate config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: append(warnings, validatedWarnings...),
		Exists:   exists,
	}, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %q: %w", path, err)
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("SAFEWORD_BACKEND_URL")); v != "" {
		cfg.Backend.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("SAFEWORD_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SAFEWORD_SPEECH_PROVIDER")); v != "" {
		cfg.Speech.Provider = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SAFEWORD_SPEECH_COMMAND")); v != "" {
		argv, err := parseArgv(v)
		if err != nil {
			return fmt.Errorf("invalid SAFEWORD_SPEECH_COMMAND: %w", err)
		}
		cfg.Speech.Command = CommandConfig{Raw: v, Argv: argv}
	}
	if v := strings.TrimSpace(os.Getenv("SAFEWORD_LOCATION_PROVIDER")); v != "" {
		cfg.Location.Provider = strings.ToLower(v)
	}
	return nil
}
