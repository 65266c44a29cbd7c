package config

import (
	"sync"
)

var (
	// globalManager is the process-wide configuration manager
	globalManager *Manager
	globalMu      sync.Mutex
)

// NewDefaultManager creates a manager over store with every MNEMIS section
// registered and loaded.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)

	sections := []Section{
		NewStorageSection(),
		NewAgentMemorySection(),
		NewReviewSection(),
		NewTelemetrySection(),
		NewLoggingSection(),
	}
	for _, s := range sections {
		if err := manager.RegisterSection(s); err != nil {
			return nil, err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	return manager, nil
}

// Initialize creates the global configuration manager from the file at
// configPath, or ~/.mnemis/config.json when empty.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}
	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// section fetches a typed section from the global manager, or nil.
func section[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	s, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := s.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetStorage returns the storage section, or nil before Initialize.
func GetStorage() *StorageSection { return section[*StorageSection](SectionIDStorage) }

// GetAgentMemory returns the agent memory section, or nil before Initialize.
func GetAgentMemory() *AgentMemorySection {
	return section[*AgentMemorySection](SectionIDAgentMemory)
}

// GetReview returns the review section, or nil before Initialize.
func GetReview() *ReviewSection { return section[*ReviewSection](SectionIDReview) }

// GetTelemetry returns the telemetry section, or nil before Initialize.
func GetTelemetry() *TelemetrySection { return section[*TelemetrySection](SectionIDTelemetry) }

// GetLogging returns the logging section, or nil before Initialize.
func GetLogging() *LoggingSection { return section[*LoggingSection](SectionIDLogging) }
