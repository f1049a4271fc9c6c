package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:          "http://127.0.0.1:5000",
			TriggerPath:  "/api/emergency/trigger",
			ContactsPath: "/api/contacts",
			EvidencePath: "/api/upload_evidence",
			TimeoutMS:    8000,
		},
		Keyword: KeywordConfig{
			Default:               "help",
			ConfidenceThreshold:   0.85,
			CorroborationWindowMS: 10000,
		},
		CountdownSeconds: 5,
		Monitoring: MonitoringConfig{
			Autostart:       true,
			PeriodicUpdates: true,
		},
		Speech: SpeechConfig{
			Provider:       "google",
			LanguageCode:   "en-US",
			RestartDelayMS: 1000,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Location: LocationConfig{
			Provider:       "geoclue",
			HighAccuracy:   true,
			FixTimeoutMS:   3000,
			WatchTimeoutMS: 5000,
			MaxAgeMS:       0,
			DesktopID:      "safeword",
		},
		Evidence: EvidenceConfig{
			Enable:       true,
			MaxDurationS: 15,
			Video:        true,
			VideoDevice:  "/dev/video0",
			FFmpeg:       "ffmpeg",
			Dir:          defaultEvidenceDir(),
			Upload:       true,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "safeword",
			SoundEnable:    true,
			ErrorTimeoutMS: 4000,
		},
		Panel: PanelConfig{
			Enable: true,
			Listen: "127.0.0.1:8765",
		},
		LogLevel: "info",
	}
}

// StateDir returns $XDG_STATE_HOME/safeword with a home-relative fallback.
func StateDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "safeword")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "safeword")
	}
	return filepath.Join(home, ".local", "state", "safeword")
}

func defaultEvidenceDir() string {
	return filepath.Join(StateDir(), "evidence")
}
