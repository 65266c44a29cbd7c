package config

import (
	"fmt"
	"sync"

	"github.com/entrhq/mnemis/pkg/logging"
)

// SectionIDLogging is the identifier for the logging section.
const SectionIDLogging = "logging"

// LoggingSection sets how chatty the command line is.
type LoggingSection struct {
	Level string `json:"level"`
	mu    sync.RWMutex
}

// NewLoggingSection creates a logging section at warn level.
func NewLoggingSection() *LoggingSection {
	return &LoggingSection{Level: logging.LevelWarn.String()}
}

// ID returns the section identifier.
func (s *LoggingSection) ID() string {
	return SectionIDLogging
}

// Title returns the section title.
func (s *LoggingSection) Title() string {
	return "Logging"
}

// Description returns the section description.
func (s *LoggingSection) Description() string {
	return "Minimum level of command line diagnostics."
}

// Data returns the current configuration data.
func (s *LoggingSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{"level": s.Level}
}

// SetData updates the configuration from the provided data.
func (s *LoggingSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := data["level"]; ok {
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("invalid value type for level: expected string, got %T", v)
		}
		s.Level = str
	}
	return nil
}

// Validate validates the current configuration.
func (s *LoggingSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := logging.ParseLevel(s.Level)
	return err
}

// Reset resets the section to default configuration.
func (s *LoggingSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Level = logging.LevelWarn.String()
}

// LevelValue returns the parsed level, falling back to warn.
func (s *LoggingSection) LevelValue() logging.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := logging.ParseLevel(s.Level)
	if err != nil {
		return logging.LevelWarn
	}
	return l
}
