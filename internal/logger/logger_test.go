package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{" off ", LevelNone},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelWarn, &buf, "")

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn %d", 1)
	l.Error("error %s", "two")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn 1")
	assert.Contains(t, out, "[ERROR] error two")
}

func TestWithPrefixSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := New(LevelInfo, &buf, "server")
	child := root.WithPrefix("alice")

	child.Info("joined")
	root.SetLevel(LevelError)
	child.Info("hidden")

	out := buf.String()
	assert.Contains(t, out, "[server:alice] joined")
	assert.NotContains(t, out, "hidden")
}

func TestTee(t *testing.T) {
	var primary, extra bytes.Buffer
	l := New(LevelInfo, &primary, "")
	l.Tee(&extra)

	l.Info("hello")

	assert.Contains(t, primary.String(), "hello")
	assert.Contains(t, extra.String(), "hello")
}

func TestOpenAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fileexchange.log")

	l, err := Open(LevelInfo, path)
	require.NoError(t, err)
	l.Info("first")
	require.NoError(t, l.Close())

	l, err = Open(LevelInfo, path)
	require.NoError(t, err)
	l.Info("second")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	assert.Equal(t, LevelNone, l.Level())
}
