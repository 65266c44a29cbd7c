package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// useTempLogDir points the package at a fresh directory and a fresh
// session for the duration of the test.
func useTempLogDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	origLogDir, origInitErr, origSessionID := logDir, initErr, sessionID

	logDir = dir
	initErr = nil
	initOnce = sync.Once{}
	sessionID = ""
	sessionIDOnce = sync.Once{}

	t.Cleanup(func() {
		logDir = origLogDir
		initErr = origInitErr
		sessionID = origSessionID
		initOnce = sync.Once{}
		sessionIDOnce = sync.Once{}
	})
	return dir
}

func readLog(t *testing.T, l *Logger) string {
	t.Helper()
	content, err := os.ReadFile(l.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestNewLogger(t *testing.T) {
	dir := useTempLogDir(t)

	logger, err := NewLogger("store")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "store" {
		t.Errorf("Expected component 'store', got %q", logger.component)
	}
	if logger.SessionID() == "" {
		t.Error("Expected non-empty session ID")
	}
	if filepath.Dir(logger.LogPath()) != dir {
		t.Errorf("Expected log file inside %s, got %s", dir, logger.LogPath())
	}
	if _, err := os.Stat(logger.LogPath()); err != nil {
		t.Errorf("Log file does not exist: %v", err)
	}
}

func TestLoggerFormatting(t *testing.T) {
	useTempLogDir(t)

	logger, err := NewLogger("promotion")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debugf("Debug message %d", 1)
	logger.Infof("Info message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	content := readLog(t, logger)
	for _, pattern := range []string{
		"[promotion] [DEBUG] Debug message 1",
		"[promotion] [INFO] Info message",
		"[promotion] [WARN] Warning message",
		"[promotion] [ERROR] Error message",
	} {
		if !strings.Contains(content, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, content)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	useTempLogDir(t)

	logger, err := NewLogger("search")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.SetLevel(LevelWarn)
	logger.Debugf("hidden debug")
	logger.Infof("hidden info")
	logger.Warnf("visible warning")

	content := readLog(t, logger)
	if strings.Contains(content, "hidden") {
		t.Errorf("Messages below the level were written:\n%s", content)
	}
	if !strings.Contains(content, "visible warning") {
		t.Errorf("Warning missing:\n%s", content)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMultipleComponentsShareSession(t *testing.T) {
	useTempLogDir(t)

	l1, err := NewLogger("store")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l1.Close()
	l2, err := NewLogger("access")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l2.Close()

	if l1.SessionID() != l2.SessionID() {
		t.Errorf("Expected same session ID, got %q and %q", l1.SessionID(), l2.SessionID())
	}
	if l1.LogPath() != l2.LogPath() {
		t.Errorf("Expected same log path, got %q and %q", l1.LogPath(), l2.LogPath())
	}

	l1.Infof("from store")
	l2.Infof("from access")

	content := readLog(t, l1)
	if !strings.Contains(content, "[store]") || !strings.Contains(content, "[access]") {
		t.Errorf("Log missing component entries:\n%s", content)
	}
}

func TestEnvLogDirOverride(t *testing.T) {
	useTempLogDir(t)
	logDir = ""
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv(EnvLogDir, dir)

	got, err := GetLogDirectory()
	if err != nil {
		t.Fatalf("GetLogDirectory failed: %v", err)
	}
	if got != dir {
		t.Errorf("Expected %s, got %s", dir, got)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Log directory was not created: %v", err)
	}
}

func TestLoggerCloseIsIdempotent(t *testing.T) {
	useTempLogDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPathFormat(t *testing.T) {
	useTempLogDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	fileName := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(fileName, "-mnemis.log") {
		t.Errorf("Expected log file to end with '-mnemis.log', got %q", fileName)
	}
	if GetSessionID() != strings.TrimSuffix(fileName, "-mnemis.log") {
		t.Errorf("Log file %q is not named after the session %q", fileName, GetSessionID())
	}
}
