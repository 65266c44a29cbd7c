package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDAgentMemory is the identifier for the agent memory section
	SectionIDAgentMemory = "agent_memory"

	defaultAgentTTL    = time.Hour
	defaultAgentMaxTTL = 24 * time.Hour
)

// AgentMemorySection bounds the lifetime of AGENT tier entries.
type AgentMemorySection struct {
	DefaultTTL time.Duration `json:"default_ttl"`
	MaxTTL     time.Duration `json:"max_ttl"`
	mu         sync.RWMutex
}

// NewAgentMemorySection creates the section with default ttls.
func NewAgentMemorySection() *AgentMemorySection {
	return &AgentMemorySection{
		DefaultTTL: defaultAgentTTL,
		MaxTTL:     defaultAgentMaxTTL,
	}
}

// ID returns the section identifier.
func (s *AgentMemorySection) ID() string {
	return SectionIDAgentMemory
}

// Title returns the section title.
func (s *AgentMemorySection) Title() string {
	return "Agent Memory"
}

// Description returns the section description.
func (s *AgentMemorySection) Description() string {
	return "Default and maximum ttl applied to ephemeral agent memory."
}

// Data returns the current configuration data.
func (s *AgentMemorySection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"default_ttl": s.DefaultTTL.String(),
		"max_ttl":     s.MaxTTL.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *AgentMemorySection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "default_ttl":
			d, err := parseDuration(key, value)
			if err != nil {
				return err
			}
			s.DefaultTTL = d
		case "max_ttl":
			d, err := parseDuration(key, value)
			if err != nil {
				return err
			}
			s.MaxTTL = d
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *AgentMemorySection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %v", s.DefaultTTL)
	}
	if s.MaxTTL < 0 {
		return fmt.Errorf("max_ttl must not be negative, got %v", s.MaxTTL)
	}
	if s.MaxTTL > 0 && s.DefaultTTL > s.MaxTTL {
		return fmt.Errorf("default_ttl %v exceeds max_ttl %v", s.DefaultTTL, s.MaxTTL)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *AgentMemorySection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DefaultTTL = defaultAgentTTL
	s.MaxTTL = defaultAgentMaxTTL
}

// TTLs returns the default and maximum ttl. A zero maximum means unbounded.
func (s *AgentMemorySection) TTLs() (time.Duration, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DefaultTTL, s.MaxTTL
}

// parseDuration accepts duration strings or JSON numbers in nanoseconds.
func parseDuration(key string, value any) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", key, err)
		}
		return d, nil
	case float64:
		return time.Duration(v), nil
	case int64:
		return time.Duration(v), nil
	case int:
		return time.Duration(v), nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected string or number, got %T", key, value)
	}
}
