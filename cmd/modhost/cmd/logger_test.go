package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	l, flush, err := newLogger(&buf, "info", "text")
	require.NoError(t, err)
	l.Info("Module started", "module", 3)
	l.Debug("hidden")
	flush()

	out := buf.String()
	assert.Contains(t, out, "Module started")
	assert.Contains(t, out, "module=3")
	assert.NotContains(t, out, "hidden")
}

func TestNewLoggerLogfmt(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := newLogger(&buf, "debug", "logfmt")
	require.NoError(t, err)
	l.Debug("Wire", "package", "a")
	assert.Contains(t, buf.String(), `msg=Wire`)
	assert.Contains(t, buf.String(), `package=a`)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l, flush, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	l.Info("dropped")
	l.Warn("Slow observer", "observer", "x")
	flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Slow observer", entry["msg"])
	assert.Equal(t, "x", entry["observer"])
	assert.Equal(t, "modhost", entry["logger"])
}

func TestNewLoggerErrors(t *testing.T) {
	_, _, err := newLogger(&bytes.Buffer{}, "info", "xml")
	assert.ErrorIs(t, err, errUnknownLogFormat)
	_, _, err = newLogger(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)
	_, _, err = newLogger(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)
}
