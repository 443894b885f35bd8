package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Stdout: &buf, Service: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.With(String("component", "registry")).Info("user registered", String("username", "alice"), Int("tries", 3))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	checks := map[string]any{
		"service":   "test",
		"component": "registry",
		"username":  "alice",
		"tries":     float64(3),
		"level":     "info",
		"msg":       "user registered",
	}
	for key, want := range checks {
		if line[key] != want {
			t.Fatalf("field %s: got %#v want %#v", key, line[key], want)
		}
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Stdout: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("expected one line, got %d: %q", got, buf.String())
	}
	if logger.Enabled(InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
}

func TestLoggerAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wordle.log")
	var buf bytes.Buffer
	logger, err := New(Options{Path: path, Stdout: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Error("flush failed", Error(errors.New("disk full")))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "disk full") {
		t.Fatalf("log file missing error text: %q", data)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if lvl, err := ParseLevel(" Warning "); err != nil || lvl != WarnLevel {
		t.Fatalf("unexpected parse result %v %v", lvl, err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := NewTestLogger().With(String("conn", "c1"))
	ctx := ContextWithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected stored logger")
	}
	if FromContext(context.Background()) != L() {
		t.Fatal("expected global fallback")
	}
}
