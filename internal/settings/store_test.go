package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingUsesFallback(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "settings.yaml"), " Help ")

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "help", got.Keyword)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	store := NewStore(path, "help")

	require.NoError(t, store.Save(Settings{Keyword: "  MAYDAY "}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "keyword: mayday\n", string(data))

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())

	got, err := NewStore(path, "help").Load()
	require.NoError(t, err)
	require.Equal(t, "mayday", got.Keyword)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSaveRejectsShortKeyword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store := NewStore(path, "help")

	err := store.SaveKeyword("x")
	require.ErrorIs(t, err, ErrInvalidKeyword)

	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestLoadEmptyKeywordFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keyword: \"\"\n"), 0o600))

	got, err := NewStore(path, "help").Load()
	require.NoError(t, err)
	require.Equal(t, "help", got.Keyword)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keyword: [unterminated\n"), 0o600))

	got, err := NewStore(path, "help").Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse settings")
	require.Equal(t, "help", got.Keyword)
}

func TestResolvePath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	path, err := ResolvePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "safeword", "settings.yaml"), path)
}
