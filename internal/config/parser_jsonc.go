package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Backend          *jsoncBackend    `json:"backend"`
	Keyword          *jsoncKeyword    `json:"keyword"`
	CountdownSeconds *int             `json:"countdown_seconds"`
	Monitoring       *jsoncMonitoring `json:"monitoring"`
	Speech           *jsoncSpeech     `json:"speech"`
	Audio            *jsoncAudio      `json:"audio"`
	Location         *jsoncLocation   `json:"location"`
	Evidence         *jsoncEvidence   `json:"evidence"`
	Indicator        *jsoncIndicator  `json:"indicator"`
	Panel            *jsoncPanel      `json:"panel"`
	LogLevel         *string          `json:"log_level"`
	Debug            *jsoncDebug      `json:"debug"`
}

type jsoncBackend struct {
	URL          *string `json:"url"`
	TriggerPath  *string `json:"trigger_path"`
	ContactsPath *string `json:"contacts_path"`
	EvidencePath *string `json:"evidence_path"`
	TimeoutMS    *int    `json:"timeout_ms"`
}

type jsoncKeyword struct {
	Default               *string  `json:"default"`
	ConfidenceThreshold   *float64 `json:"confidence_threshold"`
	CorroborationWindowMS *int     `json:"corroboration_window_ms"`
}

type jsoncMonitoring struct {
	Autostart       *bool `json:"autostart"`
	PeriodicUpdates *bool `json:"periodic_updates"`
}

type jsoncSpeech struct {
	Provider        *string `json:"provider"`
	LanguageCode    *string `json:"language_code"`
	Model           *string `json:"model"`
	CredentialsFile *string `json:"credentials_file"`
	Command         *string `json:"command"`
	RestartDelayMS  *int    `json:"restart_delay_ms"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncLocation struct {
	Provider       *string  `json:"provider"`
	HighAccuracy   *bool    `json:"high_accuracy"`
	FixTimeoutMS   *int     `json:"fix_timeout_ms"`
	WatchTimeoutMS *int     `json:"watch_timeout_ms"`
	MaxAgeMS       *int     `json:"max_age_ms"`
	DesktopID      *string  `json:"desktop_id"`
	StaticLat      *float64 `json:"static_lat"`
	StaticLon      *float64 `json:"static_lon"`
}

type jsoncEvidence struct {
	Enable       *bool   `json:"enable"`
	MaxDurationS *int    `json:"max_duration_s"`
	Video        *bool   `json:"video"`
	VideoDevice  *string `json:"video_device"`
	FFmpeg       *string `json:"ffmpeg"`
	Dir          *string `json:"dir"`
	Upload       *bool   `json:"upload"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncPanel struct {
	Enable *bool   `json:"enable"`
	Listen *string `json:"listen"`
}

type jsoncDebug struct {
	SpeechDump *bool `json:"speech_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}
	return cfg, nil, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if b := payload.Backend; b != nil {
		setString(&cfg.Backend.URL, b.URL)
		setString(&cfg.Backend.TriggerPath, b.TriggerPath)
		setString(&cfg.Backend.ContactsPath, b.ContactsPath)
		setString(&cfg.Backend.EvidencePath, b.EvidencePath)
		setInt(&cfg.Backend.TimeoutMS, b.TimeoutMS)
	}

	if k := payload.Keyword; k != nil {
		setString(&cfg.Keyword.Default, k.Default)
		setFloat(&cfg.Keyword.ConfidenceThreshold, k.ConfidenceThreshold)
		setInt(&cfg.Keyword.CorroborationWindowMS, k.CorroborationWindowMS)
	}

	setInt(&cfg.CountdownSeconds, payload.CountdownSeconds)

	if m := payload.Monitoring; m != nil {
		setBool(&cfg.Monitoring.Autostart, m.Autostart)
		setBool(&cfg.Monitoring.PeriodicUpdates, m.PeriodicUpdates)
	}

	if s := payload.Speech; s != nil {
		setString(&cfg.Speech.Provider, s.Provider)
		cfg.Speech.Provider = strings.ToLower(cfg.Speech.Provider)
		setString(&cfg.Speech.LanguageCode, s.LanguageCode)
		setString(&cfg.Speech.Model, s.Model)
		setString(&cfg.Speech.CredentialsFile, s.CredentialsFile)
		setInt(&cfg.Speech.RestartDelayMS, s.RestartDelayMS)
		if s.Command != nil {
			raw := *s.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return fmt.Errorf("invalid speech.command: %w", err)
			}
			cfg.Speech.Command = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}

	if l := payload.Location; l != nil {
		setString(&cfg.Location.Provider, l.Provider)
		cfg.Location.Provider = strings.ToLower(cfg.Location.Provider)
		setBool(&cfg.Location.HighAccuracy, l.HighAccuracy)
		setInt(&cfg.Location.FixTimeoutMS, l.FixTimeoutMS)
		setInt(&cfg.Location.WatchTimeoutMS, l.WatchTimeoutMS)
		setInt(&cfg.Location.MaxAgeMS, l.MaxAgeMS)
		setString(&cfg.Location.DesktopID, l.DesktopID)
		setFloat(&cfg.Location.StaticLat, l.StaticLat)
		setFloat(&cfg.Location.StaticLon, l.StaticLon)
	}

	if e := payload.Evidence; e != nil {
		setBool(&cfg.Evidence.Enable, e.Enable)
		setInt(&cfg.Evidence.MaxDurationS, e.MaxDurationS)
		setBool(&cfg.Evidence.Video, e.Video)
		setString(&cfg.Evidence.VideoDevice, e.VideoDevice)
		setString(&cfg.Evidence.FFmpeg, e.FFmpeg)
		setString(&cfg.Evidence.Dir, e.Dir)
		setBool(&cfg.Evidence.Upload, e.Upload)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if p := payload.Panel; p != nil {
		setBool(&cfg.Panel.Enable, p.Enable)
		setString(&cfg.Panel.Listen, p.Listen)
	}

	if payload.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*payload.LogLevel))
	}

	if payload.Debug != nil {
		setBool(&cfg.Debug.SpeechDump, payload.Debug.SpeechDump)
	}

	return nil
}

// normalizeJSONC blanks comments and drops trailing commas so encoding/json
// can decode the result. Byte offsets are preserved for comment removal so
// decode errors still point at the right line.
func normalizeJSONC(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	for i := 0; i < len(content); i++ {
		ch := content[i]

		switch {
		case ch == '"':
			end := skipString(content, i)
			out.WriteString(content[i:end])
			i = end - 1

		case ch == '/' && i+1 < len(content) && content[i+1] == '/':
			for i < len(content) && content[i] != '\n' && content[i] != '\r' {
				out.WriteByte(' ')
				i++
			}
			if i < len(content) {
				out.WriteByte(content[i])
			}

		case ch == '/' && i+1 < len(content) && content[i+1] == '*':
			closeAt := strings.Index(content[i+2:], "*/")
			if closeAt < 0 {
				return "", fmt.Errorf("unterminated block comment in JSONC")
			}
			end := i + 2 + closeAt + 2
			for _, c := range []byte(content[i:end]) {
				if c == '\n' || c == '\r' || c == '\t' {
					out.WriteByte(c)
				} else {
					out.WriteByte(' ')
				}
			}
			i = end - 1

		default:
			out.WriteByte(ch)
		}
	}

	return dropTrailingCommas(out.String()), nil
}

// skipString returns the index just past the JSON string starting at start.
func skipString(content string, start int) int {
	for i := start + 1; i < len(content); i++ {
		switch content[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(content)
}

func dropTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if ch == '"' {
			end := skipString(content, i)
			out.WriteString(content[i:end])
			i = end - 1
			continue
		}
		if ch == ',' {
			next := strings.TrimLeft(content[i+1:], " \t\r\n")
			if strings.HasPrefix(next, "}") || strings.HasPrefix(next, "]") {
				out.WriteByte(' ')
				continue
			}
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	prefix := content[:min(int(offset), len(content))]
	if prefix != "" {
		prefix = prefix[:len(prefix)-1]
	}
	line := strings.Count(prefix, "\n") + 1
	col := len(prefix) - strings.LastIndex(prefix, "\n")
	return line, col
}
