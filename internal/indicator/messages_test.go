package indicator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveLocaleDefaultsToEnglish(t *testing.T) {
	require.Equal(t, localeEnglish, resolveLocale("en_US.UTF-8"))
	require.Equal(t, localeEnglish, resolveLocale("de_DE.UTF-8"))
	require.Equal(t, localeEnglish, resolveLocale(""))
}

func TestEnglishMessages(t *testing.T) {
	m := messagesFor(localeEnglish)
	require.Equal(t, `Emergency alert in 5s (voice keyword). Run "safeword cancel" to stop.`, m.countdown(5, "voice_keyword_confirmed_double"))
	require.Equal(t, `Emergency alert in 3s (manual). Run "safeword cancel" to stop.`, m.countdown(3, "manual"))
	require.Equal(t, "Emergency alert sent to 1 contact", m.dispatched(1))
	require.Equal(t, "Emergency alert sent to 4 contacts", m.dispatched(4))
}

func TestSourceLabel(t *testing.T) {
	require.Equal(t, "voice keyword", sourceLabel("voice_keyword_confirmed"))
	require.Equal(t, "panel button", sourceLabel("panel_button"))
	require.Equal(t, "manual", sourceLabel(""))
}
