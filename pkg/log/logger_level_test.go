package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  LogLevel
	}{
		{name: "debug lower", input: "debug", want: LevelDebug},
		{name: "info upper", input: "INFO", want: LevelInfo},
		{name: "warn mixed", input: "WaRn", want: LevelWarn},
		{name: "error", input: "error", want: LevelError},
		{name: "fatal", input: "fatal", want: LevelFatal},
		{name: "trim spaces", input: "  debug  ", want: LevelDebug},
		{name: "unknown fallback", input: "verbose", want: LevelInfo},
		{name: "empty fallback", input: "", want: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Fatalf("ParseLevel(%q)=%v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewFromOptions_DefaultsToStdout(t *testing.T) {
	l, err := NewFromOptions(Options{Level: "info"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Out() != os.Stdout {
		t.Fatalf("logger without file should write to stdout")
	}
}

func TestNewFromOptions_CreatesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "auto-novel.log")
	l, err := NewFromOptions(Options{Level: "debug", File: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.With(BookFields("syosetu", "n1234", "zh")).Info("hello %s", "world")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if !strings.Contains(string(data), `"book":"n1234"`) {
		t.Fatalf("expected structured fields in %s", data)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Fatalf("expected formatted message in %s", data)
	}
}
