package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calmify/wellness-backend/server/config"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := New(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		File:       path,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	log.Debug("hidden")
	log.Info("Emotion detected")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"Emotion detected"`) {
		t.Errorf("log file missing entry: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug entry written at info level")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"bad level", config.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"}},
		{"bad output", config.LoggingConfig{Level: "info", Format: "json", Output: "syslog"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
