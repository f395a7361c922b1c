package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestStandardLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: InfoLevel, Format: "json", Output: &buf, TimeFormat: time.RFC3339})

	l.With(String("job", "abc")).Info("download finished", Int64("bytes", 42))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "download finished" {
		t.Errorf("message = %v, want 'download finished'", entry["message"])
	}
	if entry["job"] != "abc" {
		t.Errorf("job = %v, want 'abc'", entry["job"])
	}
	if entry["bytes"] != float64(42) {
		t.Errorf("bytes = %v, want 42", entry["bytes"])
	}
}

func TestStandardLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: WarnLevel, Format: "text", Output: &buf, TimeFormat: time.RFC3339})

	l.Info("hidden")
	l.Warn("shown", String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "WARN shown k=v") {
		t.Errorf("output = %q, want warn line with field", out)
	}
}

func TestNewFromConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drivefetch.log")
	l, closer, err := NewFromConfig(types.LoggingConfig{Level: "debug", Output: path})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	l.Debug("hello")
	if err := closer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewFromConfig_BadLevel(t *testing.T) {
	if _, _, err := NewFromConfig(types.LoggingConfig{Level: "nope"}); err == nil {
		t.Error("NewFromConfig() error = nil, want error")
	}
}

func TestContextRoundTrip(t *testing.T) {
	l := Nop()
	ctx := ToContext(context.Background(), l)
	if WithContext(ctx) != l {
		t.Error("WithContext() did not return the stored logger")
	}
	if WithContext(context.Background()) != GetGlobalLogger() {
		t.Error("WithContext() on empty context should return the global logger")
	}
}
