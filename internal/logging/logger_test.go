package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(dir, "info")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Debug("hidden_debug_line")
	log.Info("test_message_from_logging_test")
	_ = log.Sync()

	b, err := os.ReadFile(filepath.Join(dir, "uptime.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, `"msg":"test_message_from_logging_test"`) || !strings.Contains(out, `"ts":`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "hidden_debug_line") {
		t.Fatalf("debug line written at info level")
	}
}

func TestNewLogger_DebugLevelAndBadLevel(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, "debug")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug must be enabled")
	}

	log2, err := NewLogger(t.TempDir(), "loud")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if log2.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("unknown level should fall back to info")
	}
}
