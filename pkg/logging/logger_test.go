package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"unknown", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "text debug", opts: Options{Level: "debug", Format: "text"}},
		{name: "json info", opts: Options{Level: "info", Format: "json"}},
		{name: "empty format defaults to text", opts: Options{Level: "warn"}},
		{name: "unknown format", opts: Options{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = logrus.New()
			err := Init(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit_WithLogFile(t *testing.T) {
	Logger = logrus.New()
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "subdir", "nested", "test.log")

	if err := Init(Options{Level: "info", File: logFile, Quiet: true}); err != nil {
		t.Fatalf("Init with log file failed: %v", err)
	}

	Infof("written to %s", "file")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing message, got %q", string(data))
	}
}

func TestComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	Logger = logrus.New()
	if err := Init(Options{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Logger.SetOutput(&buf)

	Component("engine").WithError(errors.New("boom")).Warn("predict failed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "engine" {
		t.Errorf("expected component=engine, got %v", entry["component"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error=boom, got %v", entry["error"])
	}
	if entry["level"] != "warning" {
		t.Errorf("expected level=warning, got %v", entry["level"])
	}
}

func TestLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(logrus.DebugLevel)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	buf.Reset()
	Debugf("debug %s", "formatted")
	if !strings.Contains(buf.String(), "debug formatted") {
		t.Error("Debugf message not logged")
	}

	buf.Reset()
	Warnf("warn %s", "test")
	if !strings.Contains(buf.String(), "warn test") {
		t.Error("Warnf message not logged")
	}

	buf.Reset()
	Errorf("error %d", 7)
	if !strings.Contains(buf.String(), "error 7") {
		t.Error("Errorf message not logged")
	}

	buf.Reset()
	WithFields(Fields{"user_id": 3, "seq": 1}).Info("saved")
	if !strings.Contains(buf.String(), "user_id=3") || !strings.Contains(buf.String(), "seq=1") {
		t.Errorf("fields not logged: %q", buf.String())
	}

	buf.Reset()
	SetLevel("error")
	Infof("hidden")
	if buf.Len() != 0 {
		t.Errorf("info message should be filtered at error level, got %q", buf.String())
	}
}
