// Package config resolves, parses, validates, and defaults safeword configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by safeword.
type Config struct {
	Backend          BackendConfig
	Keyword          KeywordConfig
	CountdownSeconds int
	Monitoring       MonitoringConfig
	Speech           SpeechConfig
	Audio            AudioConfig
	Location         LocationConfig
	Evidence         EvidenceConfig
	Indicator        IndicatorConfig
	Panel            PanelConfig
	LogLevel         string
	Debug            DebugConfig
}

// BackendConfig locates the emergency notification backend.
type BackendConfig struct {
	URL          string
	TriggerPath  string
	ContactsPath string
	EvidencePath string
	TimeoutMS    int
}

// Timeout returns the per-request timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// KeywordConfig controls trigger matching.
type KeywordConfig struct {
	Default               string
	ConfidenceThreshold   float64
	CorroborationWindowMS int
}

// Window returns the corroboration window.
func (k KeywordConfig) Window() time.Duration {
	return time.Duration(k.CorroborationWindowMS) * time.Millisecond
}

// MonitoringConfig controls what runs when the daemon starts.
type MonitoringConfig struct {
	Autostart       bool
	PeriodicUpdates bool
}

// SpeechConfig selects and tunes the recognizer.
type SpeechConfig struct {
	Provider        string
	LanguageCode    string
	Model           string
	CredentialsFile string
	Command         CommandConfig
	RestartDelayMS  int
}

// RestartDelay returns the pause between recognition sessions.
func (s SpeechConfig) RestartDelay() time.Duration {
	return time.Duration(s.RestartDelayMS) * time.Millisecond
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// LocationConfig selects the position provider and its watch options.
type LocationConfig struct {
	Provider       string
	HighAccuracy   bool
	FixTimeoutMS   int
	WatchTimeoutMS int
	MaxAgeMS       int
	DesktopID      string
	StaticLat      float64
	StaticLon      float64
}

// FixTimeout bounds a fresh-fix request during dispatch.
func (l LocationConfig) FixTimeout() time.Duration {
	return time.Duration(l.FixTimeoutMS) * time.Millisecond
}

// WatchTimeout bounds provider start-up.
func (l LocationConfig) WatchTimeout() time.Duration {
	return time.Duration(l.WatchTimeoutMS) * time.Millisecond
}

// MaxAge is the oldest cached fix accepted as current.
func (l LocationConfig) MaxAge() time.Duration {
	return time.Duration(l.MaxAgeMS) * time.Millisecond
}

// EvidenceConfig controls incident recording.
type EvidenceConfig struct {
	Enable       bool
	MaxDurationS int
	Video        bool
	VideoDevice  string
	FFmpeg       string
	Dir          string
	Upload       bool
}

// MaxDuration returns the clip length cap.
func (e EvidenceConfig) MaxDuration() time.Duration {
	return time.Duration(e.MaxDurationS) * time.Second
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// PanelConfig controls the local control panel.
type PanelConfig struct {
	Enable bool
	Listen string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	SpeechDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
