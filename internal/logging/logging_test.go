package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		debug bool
		level zapcore.Level
		on    bool
	}{
		{false, zapcore.DebugLevel, false},
		{false, zapcore.InfoLevel, true},
		{true, zapcore.DebugLevel, true},
	}
	for _, tt := range tests {
		log, err := New(tt.debug)
		if err != nil {
			t.Fatalf("New(%v): %v", tt.debug, err)
		}
		if got := log.Core().Enabled(tt.level); got != tt.on {
			t.Fatalf("New(%v) enables %v = %v, want %v", tt.debug, tt.level, got, tt.on)
		}
	}
}
