// Package logging builds the zap logger shared by the PAM module and the CLI.
// Output goes to a JSON log file and, optionally, to the system log.
package logging

import (
	"errors"
	"fmt"
	"log/syslog"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultFile      = "/var/log/ssh-with-gh.log"
	DefaultSyslogTag = "github_ssh_auth"
)

// Options selects the logger outputs.
type Options struct {
	Debug bool
	// File is the log file path. Empty disables file output.
	File string
	// Syslog enables a copy of every entry in the AUTHPRIV system log.
	Syslog    bool
	SyslogTag string
}

// New builds a logger for opts. It fails only when no output at all could be
// opened; a missing syslog socket merely drops that output.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	var cores []zapcore.Core
	var errs []error

	if opts.File != "" {
		core, err := fileCore(opts.File, level, opts.Debug)
		if err != nil {
			errs = append(errs, err)
		} else {
			cores = append(cores, core)
		}
	}
	if opts.Syslog {
		tag := opts.SyslogTag
		if tag == "" {
			tag = DefaultSyslogTag
		}
		core, err := syslogCore(tag, level)
		if err != nil {
			errs = append(errs, err)
		} else {
			cores = append(cores, core)
		}
	}

	if len(cores) == 0 {
		if len(errs) == 0 {
			return zap.NewNop(), nil
		}
		return nil, errors.Join(errs...)
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

// NewOrNop is New with a no-op fallback, for callers that must not fail
// because logging is unavailable.
func NewOrNop(opts Options) *zap.Logger {
	logger, err := New(opts)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func encoderConfig(debug bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	if debug {
		cfg = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.TimeKey = "ts"
	return cfg
}

func fileCore(path string, level zap.AtomicLevel, debug bool) (zapcore.Core, error) {
	sink, _, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(debug)), sink, level), nil
}

// syslogCore writes console-encoded entries without a timestamp; syslog adds
// its own.
func syslogCore(tag string, level zap.AtomicLevel) (zapcore.Core, error) {
	w, err := syslog.New(syslog.LOG_AUTHPRIV|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}
	cfg := encoderConfig(false)
	cfg.TimeKey = ""
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), level), nil
}
