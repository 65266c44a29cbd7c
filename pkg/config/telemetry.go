package config

import (
	"fmt"
	"sync"
)

// SectionIDTelemetry is the identifier for the telemetry section.
const SectionIDTelemetry = "telemetry"

// TelemetrySection controls the JSON operation logs.
type TelemetrySection struct {
	Enabled bool   `json:"enabled"`
	LogDir  string `json:"log_dir"`
	mu      sync.RWMutex
}

// NewTelemetrySection creates an enabled telemetry section that logs below
// the storage directory.
func NewTelemetrySection() *TelemetrySection {
	return &TelemetrySection{Enabled: true}
}

// ID returns the section identifier.
func (s *TelemetrySection) ID() string {
	return SectionIDTelemetry
}

// Title returns the section title.
func (s *TelemetrySection) Title() string {
	return "Telemetry"
}

// Description returns the section description.
func (s *TelemetrySection) Description() string {
	return "Operation, promotion and access violation logs. An empty log_dir means <base_dir>/telemetry."
}

// Data returns the current configuration data.
func (s *TelemetrySection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"enabled": s.Enabled,
		"log_dir": s.LogDir,
	}
}

// SetData updates the configuration from the provided data.
func (s *TelemetrySection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "enabled":
			enabled, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value type for enabled: expected bool, got %T", value)
			}
			s.Enabled = enabled
		case "log_dir":
			dir, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for log_dir: expected string, got %T", value)
			}
			s.LogDir = dir
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *TelemetrySection) Validate() error {
	return nil
}

// Reset resets the section to default configuration.
func (s *TelemetrySection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enabled = true
	s.LogDir = ""
}

// Settings returns whether telemetry is on and its directory.
func (s *TelemetrySection) Settings() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Enabled, s.LogDir
}
