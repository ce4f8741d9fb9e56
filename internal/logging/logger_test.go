package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"Debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"trace":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		if !ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = false", level)
		}
	}
	for _, level := range []string{"", "trace", "verbose"} {
		if ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = true", level)
		}
	}
}

func TestNewLogger_JSONRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "info", false)
	logger.Info("process_started", "pid", 4242, "id", "abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("record is not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "process_started" || rec["pid"] != float64(4242) || rec["id"] != "abc" {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["source"]; ok {
		t.Error("source attached without verbose")
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "TEXT", "info", false).Info("state_change", "to", "Reaped")
	if !strings.Contains(buf.String(), "msg=state_change to=Reaped") {
		t.Errorf("text record = %q", buf.String())
	}
}

func TestNewLogger_VerboseForcesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "error", true)
	logger.Debug("poll_failed")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("debug record missing under verbose: %q", buf.String())
	}
	if _, ok := rec["source"]; !ok {
		t.Error("verbose record has no source")
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		emitted []string
		dropped []string
	}{
		{"debug", []string{"d", "i", "w", "e"}, nil},
		{"info", []string{"i", "w", "e"}, []string{"d"}},
		{"warn", []string{"w", "e"}, []string{"d", "i"}},
		{"error", []string{"e"}, []string{"d", "i", "w"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&buf, "text", tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			out := buf.String()
			for _, msg := range tt.emitted {
				if !strings.Contains(out, "msg="+msg+"\n") {
					t.Errorf("%q not emitted at %s", msg, tt.level)
				}
			}
			for _, msg := range tt.dropped {
				if strings.Contains(out, "msg="+msg+"\n") {
					t.Errorf("%q emitted at %s", msg, tt.level)
				}
			}
		})
	}
}

func TestNewLoggerWithWriter_UnknownFormatIsText(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(&buf, "yaml", "").Info("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("record = %q, want text", buf.String())
	}
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))
	slog.Info("via_default")
	if !strings.Contains(buf.String(), "via_default") {
		t.Error("SetDefault did not install the logger")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger enabled at error level")
	}
	logger.Error("dropped")
}
