package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GoCodeAlone/modhost"
)

var (
	errUnknownLogFormat = errors.New("unknown log format")
	errUnknownOutput    = errors.New("unknown output format")
)

// charmLogger adapts a charm logger, whose methods take any message, to
// modhost.Logger.
type charmLogger struct {
	l *log.Logger
}

func (c charmLogger) Info(msg string, args ...any)  { c.l.Info(msg, args...) }
func (c charmLogger) Error(msg string, args ...any) { c.l.Error(msg, args...) }
func (c charmLogger) Warn(msg string, args ...any)  { c.l.Warn(msg, args...) }
func (c charmLogger) Debug(msg string, args ...any) { c.l.Debug(msg, args...) }

// newLogger builds the logger for format. text and logfmt write through
// charm; json writes through zap. The returned function flushes.
func newLogger(w io.Writer, level, format string) (modhost.Logger, func(), error) {
	switch strings.ToLower(format) {
	case "", "text", "logfmt":
		lvl, err := log.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		formatter := log.TextFormatter
		if strings.EqualFold(format, "logfmt") {
			formatter = log.LogfmtFormatter
		}
		l := log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			Level:           lvl,
			Formatter:       formatter,
			Prefix:          "modhost",
		})
		return charmLogger{l: l}, func() {}, nil
	case "json":
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, nil, err
		}
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(w), lvl)
		z := modhost.NewZapLogger(zap.New(core).Named("modhost"))
		return z, func() { _ = z.Sync() }, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", errUnknownLogFormat, format)
}
