//go:build testing
// +build testing

package config

// ResetGlobalManager clears the global configuration manager so tests in
// other packages can call Initialize again.
func ResetGlobalManager() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = nil
}
