package indicator

import (
	"fmt"
	"os"
	"strings"
)

type locale string

const localeEnglish locale = "en"

type messages struct {
	countdown  func(seconds int, source string) string
	active     string
	cancelled  string
	dispatched func(notified int) string
	disabled   string
}

func messagesFromEnv() messages {
	return messagesFor(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func messagesFor(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			countdown: func(seconds int, source string) string {
				return fmt.Sprintf("Emergency alert in %ds (%s). Run \"safeword cancel\" to stop.", seconds, sourceLabel(source))
			},
			active:    "Sending emergency alert…",
			cancelled: "Emergency alert cancelled",
			dispatched: func(n int) string {
				if n == 1 {
					return "Emergency alert sent to 1 contact"
				}
				return fmt.Sprintf("Emergency alert sent to %d contacts", n)
			},
			disabled: "Voice keyword listening is off",
		}
	}
}

func sourceLabel(source string) string {
	switch {
	case strings.HasPrefix(source, "voice_keyword"):
		return "voice keyword"
	case source == "":
		return "manual"
	}
	return strings.ReplaceAll(source, "_", " ")
}
