package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, f := range []Format{FormatConsole, FormatJSON, "bogus"} {
		log := New("warn", f)
		if log.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("format %q: info enabled at warn level", f)
		}
		if !log.Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("format %q: error disabled at warn level", f)
		}
	}
}
