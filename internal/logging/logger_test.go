package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	rt, err := New(&buf, "warn", "")
	require.NoError(t, err)

	rt.Logger.Info("hidden")
	rt.Logger.Warn("shown", "port", "/dev/ttyACM0")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "/dev/ttyACM0")
	assert.Empty(t, rt.Path())
	assert.NoError(t, rt.Close())
}

func TestFileLoggerWritesJSONWithSessionFields(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "console.log")

	rt, err := New(&console, "info", path)
	require.NoError(t, err)
	assert.Equal(t, path, rt.Path())

	rt.ForSession("abc-123", "/dev/ttyACM0").Info("flow started", "flow", "status")
	require.NoError(t, rt.Close())

	assert.Empty(t, console.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.NotEmpty(t, lines)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &record))
	assert.Equal(t, "flow started", record["msg"])
	assert.Equal(t, "abc-123", record["session_id"])
	assert.Equal(t, "/dev/ttyACM0", record["port"])
	assert.Equal(t, "status", record["flow"])
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", "")
	assert.Error(t, err)
}
