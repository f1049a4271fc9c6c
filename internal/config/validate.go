package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateBackend(cfg.Backend); err != nil {
		return nil, err
	}

	if utf8.RuneCountInString(strings.TrimSpace(cfg.Keyword.Default)) < 2 {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("keyword.default %q is shorter than 2 characters; voice triggering is disabled until a keyword is set", cfg.Keyword.Default),
		})
	}
	if cfg.Keyword.ConfidenceThreshold <= 0 || cfg.Keyword.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("keyword.confidence_threshold must be in (0, 1]")
	}
	if cfg.Keyword.CorroborationWindowMS <= 0 {
		return nil, fmt.Errorf("keyword.corroboration_window_ms must be > 0")
	}
	if cfg.CountdownSeconds < 1 || cfg.CountdownSeconds > 60 {
		return nil, fmt.Errorf("countdown_seconds must be in [1, 60]")
	}

	switch cfg.Speech.Provider {
	case "google":
	case "command":
		if len(cfg.Speech.Command.Argv) == 0 {
			return nil, fmt.Errorf("speech.command must not be empty when speech.provider=command")
		}
	default:
		return nil, fmt.Errorf("speech.provider must be one of: google, command")
	}
	if strings.TrimSpace(cfg.Speech.LanguageCode) == "" {
		return nil, fmt.Errorf("speech.language_code must not be empty")
	}
	if cfg.Speech.RestartDelayMS < 0 {
		return nil, fmt.Errorf("speech.restart_delay_ms must be >= 0")
	}

	switch cfg.Location.Provider {
	case "geoclue":
		if strings.TrimSpace(cfg.Location.DesktopID) == "" {
			return nil, fmt.Errorf("location.desktop_id must not be empty when location.provider=geoclue")
		}
	case "static":
		if cfg.Location.StaticLat < -90 || cfg.Location.StaticLat > 90 {
			return nil, fmt.Errorf("location.static_lat must be in [-90, 90]")
		}
		if cfg.Location.StaticLon < -180 || cfg.Location.StaticLon > 180 {
			return nil, fmt.Errorf("location.static_lon must be in [-180, 180]")
		}
	case "none":
		warnings = append(warnings, Warning{Message: "location.provider=none; alerts will be sent without a location"})
	default:
		return nil, fmt.Errorf("location.provider must be one of: geoclue, static, none")
	}
	if cfg.Location.FixTimeoutMS <= 0 {
		return nil, fmt.Errorf("location.fix_timeout_ms must be > 0")
	}
	if cfg.Location.WatchTimeoutMS <= 0 {
		return nil, fmt.Errorf("location.watch_timeout_ms must be > 0")
	}
	if cfg.Location.MaxAgeMS < 0 {
		return nil, fmt.Errorf("location.max_age_ms must be >= 0")
	}

	if cfg.Evidence.MaxDurationS < 1 || cfg.Evidence.MaxDurationS > 600 {
		return nil, fmt.Errorf("evidence.max_duration_s must be in [1, 600]")
	}
	if cfg.Evidence.Enable && strings.TrimSpace(cfg.Evidence.Dir) == "" {
		return nil, fmt.Errorf("evidence.dir must not be empty when evidence.enable=true")
	}
	if cfg.Evidence.Enable && cfg.Evidence.Video && strings.TrimSpace(cfg.Evidence.FFmpeg) == "" {
		return nil, fmt.Errorf("evidence.ffmpeg must not be empty when evidence.video=true")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Panel.Enable && strings.TrimSpace(cfg.Panel.Listen) == "" {
		return nil, fmt.Errorf("panel.listen must not be empty when panel.enable=true")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

func validateBackend(b BackendConfig) error {
	parsed, err := url.Parse(strings.TrimSpace(b.URL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("backend.url must be an http(s) URL, got %q", b.URL)
	}
	paths := []struct {
		key   string
		value string
	}{
		{"backend.trigger_path", b.TriggerPath},
		{"backend.contacts_path", b.ContactsPath},
		{"backend.evidence_path", b.EvidencePath},
	}
	for _, p := range paths {
		if !strings.HasPrefix(strings.TrimSpace(p.value), "/") {
			return fmt.Errorf("%s must start with '/'", p.key)
		}
	}
	if b.TimeoutMS <= 0 {
		return fmt.Errorf("backend.timeout_ms must be > 0")
	}
	return nil
}
