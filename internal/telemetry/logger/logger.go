// Package logger is the process-wide zap wrapper. It mirrors the way the
// rest of the ambient stack is built: a single AtomicLevel for runtime level
// changes, a console encoder for local runs, and an optional rotating file
// sink for long-lived daemon processes. Every formatted call (the Warnf/
// Errorf family) passes through recovery.Redact before it reaches zap, since
// account credentials and upstream error text both flow through this package.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"spectra-core/internal/recovery"
)

var (
	mu    sync.Mutex
	log   *zap.Logger
	level = zap.NewAtomicLevelAt(zap.InfoLevel)

	encoderCfg   = defaultEncoderConfig()
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	fileWriter   zapcore.WriteSyncer
)

// FileOptions configures the optional rotating file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func rebuildLocked() {
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	var sinks []zapcore.WriteSyncer
	sinks = append(sinks, stdoutWriter)
	if fileWriter != nil {
		sinks = append(sinks, fileWriter)
	}
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init sets the process log level. Accepted values: debug, info (default),
// warn, error; comparison is case-insensitive.
func Init(lvl string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(lvl) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	rebuildLocked()
}

// EnableFileSink adds a lumberjack-rotated file sink alongside stdout. Safe
// to call again to reconfigure rotation parameters.
func EnableFileSink(opts FileOptions) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Path == "" {
		fileWriter = nil
		rebuildLocked()
		return
	}
	fileWriter = zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	})
	rebuildLocked()
}

// SetWriter overrides the stdout sink; used by tests to capture output.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(w))
	}
	rebuildLocked()
}

// Logger returns the current zap.Logger, building a default one lazily.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		rebuildLocked()
	}
	return log
}

func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Logger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Logger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Debugf, Infof, Warnf, and Errorf format with fmt.Sprintf and redact known
// sensitive patterns before the message reaches zap. Prefer the structured
// variants above on hot paths.
func Debugf(format string, a ...any) { Logger().Debug(recovery.Redact(fmt.Sprintf(format, a...))) }
func Infof(format string, a ...any)  { Logger().Info(recovery.Redact(fmt.Sprintf(format, a...))) }
func Warnf(format string, a ...any)  { Logger().Warn(recovery.Redact(fmt.Sprintf(format, a...))) }
func Errorf(format string, a ...any) { Logger().Error(recovery.Redact(fmt.Sprintf(format, a...))) }

// RedactedError wraps err's message through recovery.Redact before handing
// it to zap under the conventional "error" key. Every call site that logs an
// error field must use this instead of zap.Error, since zap.Error bypasses
// redaction entirely.
func RedactedError(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", recovery.Redact(err.Error()))
}
