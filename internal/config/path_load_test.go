package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "safeword", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "safeword", "config.jsonc"), resolved)
}

func TestStateDirPrefersXDG(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)
	require.Equal(t, filepath.Join(state, "safeword"), StateDir())
	require.Equal(t, filepath.Join(state, "safeword", "evidence"), Default().Evidence.Dir)
}

func clearOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SAFEWORD_BACKEND_URL",
		"SAFEWORD_LOG_LEVEL",
		"SAFEWORD_SPEECH_PROVIDER",
		"SAFEWORD_SPEECH_COMMAND",
		"SAFEWORD_LOCATION_PROVIDER",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	clearOverrides(t)
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	clearOverrides(t)
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  // local backend
  "backend": {
    "url": "http://10.0.0.2:5000",
  },
  "countdown_seconds": 3,
  "indicator": {
    "backend": "desktop",
  },
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "http://10.0.0.2:5000", loaded.Config.Backend.URL)
	require.Equal(t, 3, loaded.Config.CountdownSeconds)
	require.Equal(t, "desktop", loaded.Config.Indicator.Backend)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearOverrides(t)
	t.Setenv("SAFEWORD_BACKEND_URL", "https://sos.example.net")
	t.Setenv("SAFEWORD_LOCATION_PROVIDER", "NONE")
	t.Setenv("SAFEWORD_LOG_LEVEL", "warn")

	loaded, err := Load(filepath.Join(t.TempDir(), "config.jsonc"))
	require.NoError(t, err)
	require.Equal(t, "https://sos.example.net", loaded.Config.Backend.URL)
	require.Equal(t, "none", loaded.Config.Location.Provider)
	require.Equal(t, "warn", loaded.Config.LogLevel)
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"SAFEWORD_SPEECH_PROVIDER=command\nSAFEWORD_SPEECH_COMMAND=\"listen --stdout\"\n",
	), 0o600))

	loaded, err := Load(filepath.Join(dir, "config.jsonc"))
	require.NoError(t, err)
	require.Equal(t, "command", loaded.Config.Speech.Provider)
	require.Equal(t, []string{"listen", "--stdout"}, loaded.Config.Speech.Command.Argv)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SAFEWORD_BACKEND_URL=http://from-dotenv:5000\n"), 0o600))
	t.Setenv("SAFEWORD_BACKEND_URL", "http://from-env:5000")

	loaded, err := Load(filepath.Join(dir, "config.jsonc"))
	require.NoError(t, err)
	require.Equal(t, "http://from-env:5000", loaded.Config.Backend.URL)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	clearOverrides(t)
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}

func TestLoadValidationErrorIncludesPath(t *testing.T) {
	clearOverrides(t)
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"countdown_seconds": 0}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "countdown_seconds")
	require.Contains(t, err.Error(), path)
}
