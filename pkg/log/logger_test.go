package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	fmlerrors "github.com/YuminosukeSato/fraudml/pkg/errors"
)

// TestLoggerInterface tests the TestLogger implementation of Logger
func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationFit)
	testLogger.Warn("warning message", ReasonKey, "empty frame")
	testLogger.Error("error message", fmt.Errorf("test error"), RunNameKey, "Run_1")

	if buffer.String() == "" {
		t.Fatal("Expected log output, got empty string")
	}

	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}

	if !testLogger.ContainsField("key1", "value1") {
		t.Error("Expected field key1=value1 not found")
	}
	if !testLogger.ContainsField("number", 42.0) { // JSON unmarshaling converts numbers to float64
		t.Error("Expected field number=42 not found")
	}
	// A leading error becomes the "error" field
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Expected leading error to be logged under error key")
	}
	if !testLogger.ContainsField(RunNameKey, "Run_1") {
		t.Error("Expected run name after leading error")
	}
}

func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	runLogger := testLogger.With(
		ExperimentNameKey, "baseline",
		RunIDKey, "abc123",
	)
	runLogger.Info("Run started", RunNameKey, "Run_1_RF_Baseline")

	if !testLogger.ContainsField(ExperimentNameKey, "baseline") {
		t.Error("Experiment context not found")
	}
	if !testLogger.ContainsField(RunIDKey, "abc123") {
		t.Error("Run id context not found")
	}

	// The parent logger must not inherit child fields
	testLogger.Clear()
	testLogger.Info("plain")
	if testLogger.ContainsField(RunIDKey, "abc123") {
		t.Error("Parent logger should not carry child fields")
	}
}

func TestTestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     Level
		wantCount int
	}{
		{"debug captures all", LevelDebug, 4},
		{"info skips debug", LevelInfo, 3},
		{"warn keeps warn and error", LevelWarn, 2},
		{"error only", LevelError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := NewTestLogger(tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			entries, err := logger.GetLogEntries()
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tt.wantCount {
				t.Errorf("got %d entries, want %d", len(entries), tt.wantCount)
			}
			if !logger.Enabled(context.Background(), LevelError) {
				t.Error("error level should always be enabled")
			}
		})
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo, false)

	logger.Debug("hidden")
	logger.With(RunNameKey, "Run_2").Info("Run finished", PrecisionKey, 0.5, RunStatusKey, "FINISHED")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["message"] != "Run finished" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry[RunNameKey] != "Run_2" {
		t.Errorf("%s = %v", RunNameKey, entry[RunNameKey])
	}
	if entry[PrecisionKey] != 0.5 {
		t.Errorf("%s = %v", PrecisionKey, entry[PrecisionKey])
	}
	if logger.Enabled(context.Background(), LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
}

func TestZerologLoggerErrorStacktrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelDebug, false)

	err := fmlerrors.NewInputError("Prepare", "empty frame")
	logger.Error("prepare failed", err)

	var entry map[string]interface{}
	if jsonErr := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); jsonErr != nil {
		t.Fatal(jsonErr)
	}
	if !strings.Contains(fmt.Sprint(entry[ErrAttrKey]), "empty frame") {
		t.Errorf("error field = %v", entry[ErrAttrKey])
	}
	if _, ok := entry[StacktraceAttrKey]; !ok {
		t.Error("expected stacktrace field for error created with a stack")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetProviderRoutesWarnings(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelDebug)
	SetProvider(provider)
	defer func() {
		SetProvider(NewZerologProvider(&bytes.Buffer{}, LevelInfo, false))
		fmlerrors.SetZerologWarnFunc(nil)
	}()

	fmlerrors.Warn(fmlerrors.NewUndefinedMetricWarning("recall", "no true samples", 0))

	if !provider.Logger().ContainsField(ComponentKey, "warnings") {
		t.Error("warning should be logged by the warnings component")
	}
	if len(provider.Logger().EntriesAt(LevelWarn)) != 1 {
		t.Error("expected one WARN entry")
	}
}
