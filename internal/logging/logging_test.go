package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("json", "warn", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("archive build failed", "identity", "akismet")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "archive build failed", line["msg"])
	assert.Equal(t, "akismet", line["identity"])
}

func TestTextLoggerDefault(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("", "", &buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestRejectsUnknownSettings(t *testing.T) {
	_, err := New("xml", "info", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = New("text", "loud", &bytes.Buffer{})
	assert.Error(t, err)

	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
