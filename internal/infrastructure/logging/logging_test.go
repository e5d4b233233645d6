package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "json info", level: "info", format: "json", want: zapcore.InfoLevel},
		{name: "console debug", level: "debug", format: "console", want: zapcore.DebugLevel},
		{name: "upper case level", level: "WARN", format: "json", want: zapcore.WarnLevel},
		{name: "invalid level", level: "loud", format: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !logger.Core().Enabled(tt.want) {
				t.Errorf("New() level %v not enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
				t.Errorf("New() level below %v should be disabled", tt.want)
			}
		})
	}
}
