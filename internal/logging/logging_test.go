package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceIsGatedByVerboseFlag(t *testing.T) {
	var sink bytes.Buffer
	Setup(&sink, slog.LevelDebug, false)
	Trace("should not appear")
	require.Empty(t, sink.String())

	sink.Reset()
	Setup(&sink, slog.LevelDebug, true)
	Trace("should appear", "key", "value")
	require.Contains(t, sink.String(), "should appear")
	require.Contains(t, sink.String(), "\"key\":\"value\"")
}

func TestInfoAndErrorAlwaysWriteToSink(t *testing.T) {
	var sink bytes.Buffer
	Setup(&sink, slog.LevelInfo, false)

	Info("progress", "count", 3)
	Error("boom", "reason", "bad")

	lines := strings.Split(strings.TrimSpace(sink.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "progress")
	require.Contains(t, lines[1], "boom")
}

func TestSetupWithNilSinkStillLogsToStderrWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		Setup(nil, slog.LevelInfo, false)
		Info("no sink configured")
	})
}
