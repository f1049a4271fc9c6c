// Package settings persists user-editable runtime settings.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rbright/safeword/internal/config"
	"github.com/rbright/safeword/internal/keyword"
)

// ErrInvalidKeyword is returned when saving a keyword that cannot match.
var ErrInvalidKeyword = keyword.ErrInvalidKeyword

// Settings is the persisted user state.
type Settings struct {
	Keyword string `yaml:"keyword"`
}

// Store reads and writes settings.yaml.
type Store struct {
	Path     string
	Fallback string

	mu sync.Mutex
}

// ResolvePath returns settings.yaml inside the safeword config directory.
func ResolvePath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// NewStore returns a store at path. fallback is the keyword used when no
// settings file exists yet.
func NewStore(path string, fallback string) *Store {
	return &Store{Path: path, Fallback: fallback}
}

// Load returns the persisted settings, or the fallback keyword when the file
// is missing or names no keyword.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Settings{Keyword: keyword.Normalize(s.Fallback)}

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read settings %q: %w", s.Path, err)
	}

	var stored Settings
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return out, fmt.Errorf("parse settings %q: %w", s.Path, err)
	}
	if word := keyword.Normalize(stored.Keyword); word != "" {
		out.Keyword = word
	}
	return out, nil
}

// Save validates and atomically writes settings.
func (s *Store) Save(settings Settings) error {
	settings.Keyword = keyword.Normalize(settings.Keyword)
	if err := keyword.ValidKeyword(settings.Keyword); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create settings temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// SaveKeyword updates only the keyword.
func (s *Store) SaveKeyword(word string) error {
	current, err := s.Load()
	if err != nil {
		current = Settings{}
	}
	current.Keyword = word
	return s.Save(current)
}
