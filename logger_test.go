package modhost

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockLogger struct {
	mock.Mock
}

func (m *mockLogger) Info(msg string, args ...any)  { m.Called(msg, args) }
func (m *mockLogger) Error(msg string, args ...any) { m.Called(msg, args) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.Called(msg, args) }
func (m *mockLogger) Debug(msg string, args ...any) { m.Called(msg, args) }

func TestFrameworkLogsThroughLogger(t *testing.T) {
	ctx := context.Background()
	log := &mockLogger{}
	log.On("Info", mock.Anything, mock.Anything).Return()
	log.On("Debug", mock.Anything, mock.Anything).Return()
	log.On("Warn", mock.Anything, mock.Anything).Return()
	log.On("Error", mock.Anything, mock.Anything).Return()

	fw, err := New(testConfig(), log)
	require.NoError(t, err)
	require.NoError(t, fw.Init(ctx))
	require.NoError(t, fw.Start(ctx))
	install(t, fw, "m1", providerYAML)
	require.NoError(t, fw.Stop(ctx))

	log.AssertCalled(t, "Info", "Framework initialized", mock.Anything)
	log.AssertCalled(t, "Info", "Module installed", mock.Anything)
	log.AssertCalled(t, "Info", "Framework stopped", mock.Anything)
	log.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Info("Module started", "module", 3)
	l.Debug("Wire", "package", "a")

	out := buf.String()
	assert.Contains(t, out, `"msg":"Module started"`)
	assert.Contains(t, out, `"module":3`)
	assert.Equal(t, 2, strings.Count(out, "\n"))

	assert.NotNil(t, NewSlogLogger(nil))
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))
	l.Info("Module started", "module", int64(3))
	l.Warn("Slow observer", "observer", "x")
	l.Error("Module failed to start", "module", int64(4))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "Module started", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["module"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	nop := NewZapLogger(nil)
	nop.Debug("discarded")
	assert.NoError(t, nop.Sync())
}
