// Package doctor runs readiness diagnostics for config, backend, speech,
// audio, location, evidence, and indicator dependencies.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/safeword/internal/audio"
	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/config"
	"github.com/rbright/safeword/internal/hypr"
	"github.com/rbright/safeword/internal/keyword"
	"github.com/rbright/safeword/internal/location"
	"github.com/rbright/safeword/internal/settings"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	}}

	settingsPath, err := settings.ResolvePath()
	if err != nil {
		checks = append(checks, Check{Name: "settings.keyword", Pass: false, Message: err.Error()})
	} else {
		checks = append(checks, checkKeyword(settings.NewStore(settingsPath, cfg.Config.Keyword.Default)))
	}

	checks = append(checks, checkBackend(ctx, backend.New(cfg.Config.Backend, nil, nil)))
	checks = append(checks, checkSpeech(cfg.Config.Speech))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkLocation(ctx, cfg.Config.Location))

	if cfg.Config.Evidence.Enable && cfg.Config.Evidence.Video {
		checks = append(checks, checkBinary(cfg.Config.Evidence.FFmpeg, "video evidence capture"))
	}
	if cfg.Config.Indicator.Enable {
		checks = append(checks, checkIndicator(cfg.Config.Indicator))
	}

	return Report{Checks: checks}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	check := checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
	check.Name = name
	return check
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkKeyword(store *settings.Store) Check {
	current, err := store.Load()
	if err != nil {
		return Check{Name: "settings.keyword", Pass: false, Message: err.Error()}
	}
	if err := keyword.ValidKeyword(current.Keyword); err != nil {
		return Check{Name: "settings.keyword", Pass: false, Message: err.Error()}
	}
	return Check{Name: "settings.keyword", Pass: true, Message: fmt.Sprintf("%q (%s)", current.Keyword, store.Path)}
}

type pinger interface {
	Ping(ctx context.Context) error
	URL() string
}

func checkBackend(ctx context.Context, client pinger) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return Check{Name: "backend", Pass: false, Message: err.Error()}
	}
	return Check{Name: "backend", Pass: true, Message: fmt.Sprintf("reachable at %s", client.URL())}
}

// checkSpeech verifies the recognizer can start: credentials for Google,
// the binary for an external command.
func checkSpeech(cfg config.SpeechConfig) Check {
	switch cfg.Provider {
	case "command":
		return checkCommand(cfg.Command.Argv, "speech.command")
	case "", "google":
		path := strings.TrimSpace(cfg.CredentialsFile)
		source := "speech.credentials_file"
		if path == "" {
			path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
			source = "GOOGLE_APPLICATION_CREDENTIALS"
		}
		if path == "" {
			return Check{Name: "speech.google", Pass: true, Message: "no credentials file; using application default credentials"}
		}
		info, err := os.Stat(path)
		if err != nil {
			return Check{Name: "speech.google", Pass: false, Message: fmt.Sprintf("%s: %v", source, err)}
		}
		if info.IsDir() {
			return Check{Name: "speech.google", Pass: false, Message: fmt.Sprintf("%s is a directory: %s", source, path)}
		}
		return Check{Name: "speech.google", Pass: true, Message: fmt.Sprintf("credentials from %s", path)}
	default:
		return Check{Name: "speech", Pass: false, Message: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

type prober interface {
	Probe(ctx context.Context) error
}

func checkLocation(ctx context.Context, cfg config.LocationConfig) Check {
	switch cfg.Provider {
	case "geoclue":
		return checkProbe(ctx, "location.geoclue", location.NewGeoClue(location.GeoClueOptions{DesktopID: cfg.DesktopID}))
	case "static":
		return Check{Name: "location", Pass: true, Message: fmt.Sprintf("static position %g,%g", cfg.StaticLat, cfg.StaticLon)}
	case "none":
		return Check{Name: "location", Pass: true, Message: "disabled; alerts carry an unknown location"}
	default:
		return Check{Name: "location", Pass: false, Message: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

func checkProbe(ctx context.Context, name string, p prober) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := p.Probe(ctx); err != nil {
		if errors.Is(err, location.ErrUnavailable) {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("probe failed: %v", err)}
	}
	return Check{Name: name, Pass: true, Message: "service available on the system bus"}
}

func checkIndicator(cfg config.IndicatorConfig) Check {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "desktop") {
		check := checkBinary("busctl", "desktop notifications")
		check.Name = "indicator.desktop"
		return check
	}
	if err := hypr.Session(); err != nil {
		return Check{Name: "indicator.hypr", Pass: false, Message: err.Error()}
	}
	return Check{Name: "indicator.hypr", Pass: true, Message: "Hyprland session detected"}
}
