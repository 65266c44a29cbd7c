package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SectionIDStorage is the identifier for the storage section.
const SectionIDStorage = "storage"

// StorageSection locates the durable tier files.
type StorageSection struct {
	BaseDir string `json:"base_dir"`
	mu      sync.RWMutex
}

// NewStorageSection creates a storage section pointing at the default
// data directory.
func NewStorageSection() *StorageSection {
	return &StorageSection{BaseDir: defaultBaseDir()}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultDir, "data")
	}
	return filepath.Join(home, DefaultDir, "data")
}

// ID returns the section identifier.
func (s *StorageSection) ID() string {
	return SectionIDStorage
}

// Title returns the section title.
func (s *StorageSection) Title() string {
	return "Storage"
}

// Description returns the section description.
func (s *StorageSection) Description() string {
	return "Directory holding gaia_memory.jsonl, the per-project logs and the proposal log."
}

// Data returns the current configuration data.
func (s *StorageSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{"base_dir": s.BaseDir}
}

// SetData updates the configuration from the provided data.
func (s *StorageSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := data["base_dir"]; ok {
		dir, ok := v.(string)
		if !ok {
			return fmt.Errorf("invalid value type for base_dir: expected string, got %T", v)
		}
		s.BaseDir = dir
	}
	return nil
}

// Validate validates the current configuration.
func (s *StorageSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.TrimSpace(s.BaseDir) == "" {
		return fmt.Errorf("base_dir must not be empty")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *StorageSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BaseDir = defaultBaseDir()
}

// Dir returns the configured base directory.
func (s *StorageSection) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseDir
}
