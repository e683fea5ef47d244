package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestValidLevel(t *testing.T) {
	require.True(t, ValidLevel("Warn"))
	require.False(t, ValidLevel("verbose"))
	require.False(t, ValidLevel(""))
}

func TestNew_FiltersAndTagsPid(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "msg=shown")
	require.Contains(t, out, fmt.Sprintf("pid=%d", os.Getpid()))
	require.Contains(t, out, "key=value")
}

func TestNewTap(t *testing.T) {
	var buf bytes.Buffer
	NewTap(&buf, "debug").Debug("Stream ended")

	require.Contains(t, buf.String(), "component=tap")
	require.Contains(t, buf.String(), "level=DEBUG")
}
