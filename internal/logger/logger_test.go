package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologAdapterWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.DebugLevel)

	log.Info("extraction", "fov done", map[string]interface{}{"fov": 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "extraction" {
		t.Errorf("Expected component extraction, got %v", entry["component"])
	}
	if entry["message"] != "fov done" {
		t.Errorf("Expected message 'fov done', got %v", entry["message"])
	}
	if entry["fov"] != float64(3) {
		t.Errorf("Expected fov field 3, got %v", entry["fov"])
	}
}

func TestZerologAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.WarnLevel)

	log.Debug("x", "hidden", nil)
	log.Info("x", "hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("Expected no output below warn level, got %q", buf.String())
	}

	log.Error("x", errors.New("boom"), nil)
	if !bytes.Contains(buf.Bytes(), []byte("boom")) {
		t.Errorf("Expected error text in output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"":        zerolog.InfoLevel,
		"garbage": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZerologAdapterErrorKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	NewZerolog(&buf, zerolog.InfoLevel).Error("pipeline", errors.New("disk full"), map[string]interface{}{"fov": 2})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "error" || entry["error"] != "disk full" {
		t.Errorf("Expected error level with error text, got %v", entry)
	}
	if entry["component"] != "pipeline" || entry["fov"] != float64(2) {
		t.Errorf("Expected component and fov fields, got %v", entry)
	}
}
