package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// withCapturedLogger swaps the package logger for one writing into buf,
// restoring the prior logger and level afterward.
func withCapturedLogger(t *testing.T, lvl Level, buf *bytes.Buffer) {
	t.Helper()
	mu.Lock()
	savedLevel, savedLogger := level, logger
	level = lvl
	logger = log.New(buf, "", 0)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		level, logger = savedLevel, savedLogger
		mu.Unlock()
	})
}

func TestParseLevelRecognizesAllNamesAndDefaultsToInfo(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLevelStringNames(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
	for lvl, want := range cases {
		if got := lvl.String(); got != want {
			t.Fatalf("Level(%d).String() = %s, want %s", lvl, got, want)
		}
	}
}

func TestLogfFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	withCapturedLogger(t, LevelWarn, &buf)

	Debugf("hidden %d", 1)
	Infof("also hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug/info to be suppressed at warn level, got %q", buf.String())
	}

	Warnf("visible %s", "warning")
	if !strings.Contains(buf.String(), "[WARN] visible warning") {
		t.Fatalf("expected a formatted warn line, got %q", buf.String())
	}
}

func TestConfigureRedirectsToFileWhenRequested(t *testing.T) {
	dir := t.TempDir()
	if err := Configure(LevelInfo, true, dir); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(func() { _ = Configure(LevelInfo, false, "") })

	Infof("hello from file logging")

	path := filepath.Join(dir, "templedb.log")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected a log file at %s: %v", path, err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected the log file to contain the message written above")
	}
}
