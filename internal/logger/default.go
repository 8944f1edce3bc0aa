package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Default logger for use throughout the daemon.
var Default *Logger

func init() {
	SetLogger(CreateProductionLogger(LevelFromEnv(), true))
}

// SetLogger replaces the default logger, syncing the old one first.
func SetLogger(newLogger *Logger) {
	if Default != nil {
		defer func() {
			if err := Default.Sync(); err != nil {
				if strings.Contains(err.Error(), "invalid argument") ||
					strings.Contains(err.Error(), "inappropriate ioctl for device") ||
					strings.Contains(err.Error(), "bad file descriptor") {
					// ignore; sync on stderr is unsupported on some platforms
				} else {
					// logger.Sync() will return 'invalid argument' error when closing file
					newLogger.Fatalf("failed to sync logger %+v", err)
				}
			}
		}()
	}
	Default = newLogger
}

// Infow logs an info message and any additional given information.
func Infow(msg string, keysAndValues ...interface{}) {
	Default.Infow(msg, keysAndValues...)
}

// Debugw logs a debug message and any additional given information.
func Debugw(msg string, keysAndValues ...interface{}) {
	Default.Debugw(msg, keysAndValues...)
}

// Warnw logs a debug message and any additional given information.
func Warnw(msg string, keysAndValues ...interface{}) {
	Default.Warnw(msg, keysAndValues...)
}

// Errorw logs an error message, any additional given information, and includes
// stack trace.
func Errorw(msg string, keysAndValues ...interface{}) {
	Default.Errorw(msg, keysAndValues...)
}

// Fatalw logs a message and exits the application.
func Fatalw(msg string, keysAndValues ...interface{}) {
	Default.Fatalw(msg, keysAndValues...)
}

// Infof formats and then logs the message.
func Infof(format string, values ...interface{}) {
	Default.Infof(format, values...)
}

// Debugf formats and then logs the message.
func Debugf(format string, values ...interface{}) {
	Default.Debugf(format, values...)
}

// Warnf formats and then logs the message as Warn.
func Warnf(format string, values ...interface{}) {
	Default.Warnf(format, values...)
}

// Errorf logs a formatted message.
func Errorf(format string, values ...interface{}) {
	Default.Errorf(format, values...)
}

// Fatalf logs a formatted message and exits the application.
func Fatalf(format string, values ...interface{}) {
	Default.Fatalf(format, values...)
}

// Info logs an info message.
func Info(args ...interface{}) {
	Default.Info(args...)
}

// Debug logs a debug message.
func Debug(args ...interface{}) {
	Default.Debug(args...)
}

// Warn logs a message at the warn level.
func Warn(args ...interface{}) {
	Default.Warn(args...)
}

// Error logs an error message.
func Error(args ...interface{}) {
	Default.Error(args...)
}

// Fatal logs the message and exits the application.
func Fatal(args ...interface{}) {
	Default.Fatal(args...)
}

// Panic logs the message and panics.
func Panic(args ...interface{}) {
	Default.Panic(args...)
}

// WarnIf logs the error if present.
func WarnIf(err error) {
	Default.WarnIf(err)
}

// ErrorIf logs the error if present.
func ErrorIf(err error, optionalMsg ...string) {
	Default.ErrorIf(err, optionalMsg...)
}

// ErrorIfCalling calls the given function and logs the error of it if there is.
func ErrorIfCalling(f func() error, optionalMsg ...string) {
	Default.ErrorIfCalling(f, optionalMsg...)
}

// PanicIf logs the error if present and panics.
func PanicIf(err error) {
	Default.PanicIf(err)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return Default.Sync()
}

// ParseLevel maps a config string onto a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
