package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	require.Equal(t, LevelInfo, logger.level)
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	require.Empty(t, buf.String())

	logger.Warn("this should appear")
	require.Contains(t, buf.String(), "this should appear")
	require.Contains(t, buf.String(), "[WARN]")
}

func TestLoggerArgsFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debug("scheduling event", "tid", 3, "state", "READY")
	out := buf.String()
	require.Contains(t, out, "tid=3")
	require.Contains(t, out, "state=READY")
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message")
	Info("info message")
	Warn("warning message")
	Error("error message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warning message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output, got: %s", want, out)
		}
	}
}
