package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewConsole returns a development-style logger writing to w, with
// stacktraces disabled. The CLI uses it for --verbose output.
func NewConsole(w io.Writer, debug bool) *zap.Logger {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core)
}
