package logger

import (
	"log"
	"os"
	"reflect"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger. All daemon components log through
// this type; secret material must never be passed as a field value.
type Logger struct {
	*zap.SugaredLogger
	lvl         zapcore.Level
	jsonConsole bool
}

func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		lvl:           l.lvl,
		jsonConsole:   l.jsonConsole,
	}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.Named(name),
		lvl:           l.lvl,
		jsonConsole:   l.jsonConsole,
	}
}

func (l *Logger) WithError(err error) *Logger {
	return l.With("error", err)
}

func (l *Logger) WarnIf(err error) {
	if err != nil {
		l.Warn(err)
	}
}

func (l *Logger) ErrorIf(err error, optionalMsg ...string) {
	if err != nil {
		if len(optionalMsg) > 0 {
			l.Error(errors.Wrap(err, optionalMsg[0]))
		} else {
			l.Error(err)
		}
	}
}

func (l *Logger) ErrorIfCalling(f func() error, optionalMsg ...string) {
	err := f()
	if err != nil {
		e := errors.Wrap(err, runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name())
		if len(optionalMsg) > 0 {
			l.Error(errors.Wrap(e, optionalMsg[0]))
		} else {
			l.Error(e)
		}
	}
}

func (l *Logger) PanicIf(err error) {
	if err != nil {
		l.Panic(err)
	}
}

func CreateLogger(zl *zap.SugaredLogger) *Logger {
	return &Logger{SugaredLogger: zl}
}

// CreateProductionLogger builds the process logger: JSON to stderr with
// ISO-8601 timestamps, sampling disabled, level as given.
func CreateProductionLogger(lvl zapcore.Level, jsonConsole bool) *Logger {
	config := NewProductionConfig(lvl, jsonConsole)

	zl, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		log.Fatal(err)
	}
	return &Logger{
		SugaredLogger: zl.Sugar(),
		lvl:           lvl,
		jsonConsole:   jsonConsole,
	}
}

// LevelFromEnv reads LOG_LEVEL, defaulting to info when unset or invalid.
func LevelFromEnv() zapcore.Level {
	var lvl zapcore.Level
	if raw, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if err := lvl.UnmarshalText([]byte(raw)); err == nil {
			return lvl
		}
	}
	return zapcore.InfoLevel
}

func NewProductionConfig(lvl zapcore.Level, jsonConsole bool) (c zap.Config) {
	encoding := "json"
	if !jsonConsole {
		encoding = "console"
	}
	// Mostly zap.NewProductionConfig with sampling disabled
	c = zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      false,
		Sampling:         nil,
		Encoding:         encoding,
		EncoderConfig:    NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return
}

func NewProductionEncoderConfig() zapcore.EncoderConfig {
	// Copied from zap.NewProductionEncoderConfig but with ISO timestamps instead of Unix
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
