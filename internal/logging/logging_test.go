package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "debug", Format: "json", Out: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	log.Debug("fetched", "source", "danbooru", "count", 3)

	out := buf.String()
	for _, want := range []string{`"message":"fetched"`, `"source":"danbooru"`, `"count":3`, `"level":"debug"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Format: "json", Out: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line missing")
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Out: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("ready", "adapters", 5)
	if !strings.Contains(buf.String(), "ready") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNew_BadOptions(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}
