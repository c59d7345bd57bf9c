// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package log provides structured, leveled logging for docserver. Output is
// backed by go.uber.org/zap; messages carry key/value fields and, where a
// context.Context is supplied, the session identifier attached to it by
// WithSessionID.
package log

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RFC3339TrailingNano is RFC3339 format with trailing nanosecond precision.
const RFC3339TrailingNano = "2006-01-02T15:04:05.000000000Z07:00"

const (
	// DebugLevel logs are typically voluminous.
	DebugLevel = zapcore.DebugLevel
	// InfoLevel is the default logging priority.
	InfoLevel = zapcore.InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel = zapcore.WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel = zapcore.ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel = zapcore.FatalLevel
)

// contextFields lists context key/value pairs that are copied into every log
// line when present on the context passed to a logging call.
var contextFields = map[string]interface{}{
	"session": sessionIDContextKey{},
}

// Config configures a Logger.
type Config struct {
	// OutputPaths are the zap sink URLs (e.g. "stdout", "stderr", a file path).
	OutputPaths []string
	// Level is the minimum level that will be emitted.
	Level zapcore.Level
}

// Logger is a leveled, structured logger. The zero value is not usable;
// construct one with NewLogger.
type Logger struct {
	coreLogger    *zap.SugaredLogger
	defaultFields []interface{}
	levelToLogger map[zapcore.Level]func(msg string, keysAndValues ...interface{})
	now           func() time.Time
}

// NewLogger creates a new Logger from config.
func NewLogger(config Config) *Logger {
	return NewLoggerWithDefaultFields(config, nil)
}

// NewLoggerWithDefaultFields creates a new Logger whose every message
// includes defaultFields, a list of alternating keys and values.
func NewLoggerWithDefaultFields(config Config, defaultFields []interface{}) *Logger {
	l := &Logger{
		coreLogger:    mustBuildLogger(config, zap.AddCallerSkip(2)),
		defaultFields: defaultFields,
		now:           time.Now,
	}
	return setDefaultLogLevelsMap(l)
}

// NewLoggerFromCore wraps an existing zap.SugaredLogger, primarily so tests
// can assert on emitted log lines.
func NewLoggerFromCore(core *zap.SugaredLogger) *Logger {
	l := &Logger{coreLogger: core, now: time.Now}
	return setDefaultLogLevelsMap(l)
}

func setDefaultLogLevelsMap(l *Logger) *Logger {
	l.levelToLogger = map[zapcore.Level]func(msg string, keysAndValues ...interface{}){
		DebugLevel: l.coreLogger.Debugw,
		InfoLevel:  l.coreLogger.Infow,
		WarnLevel:  l.coreLogger.Warnw,
		ErrorLevel: l.coreLogger.Errorw,
		FatalLevel: l.coreLogger.Fatalw,
	}
	return l
}

func rfc3339TrailingNanoTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(RFC3339TrailingNano))
}

func mustBuildLogger(config Config, opts ...zap.Option) *zap.SugaredLogger {
	zapLogger, err := newZapConfig(config).Build(opts...)
	if err != nil {
		panic(err)
	}
	return zapLogger.Sugar()
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     rfc3339TrailingNanoTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func newZapConfig(config Config) zap.Config {
	outputPaths := config.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}
	return zap.Config{
		Level:            zap.NewAtomicLevelAt(config.Level),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    newEncoderConfig(),
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, callerSkip int, msg string, keysAndValues []interface{}) {
	t := l.now()
	keysAndValues = append(keysAndValues, l.defaultFields...)
	if len(keysAndValues)%2 != 0 {
		danglingKey := keysAndValues[len(keysAndValues)-1]
		keysAndValues = keysAndValues[:len(keysAndValues)-1]
		errLog := withDefaultFields(ctx, callerSkip, t, "ignored", danglingKey)
		l.levelToLogger[ErrorLevel]("Ignored key without a value.", errLog...)
	}
	prefix := withDefaultFields(ctx, callerSkip, t)
	if ctx != nil {
		for k, v := range contextFields {
			if ctxVal := ctx.Value(v); ctxVal != nil {
				prefix = append(prefix, k, ctxVal)
			}
		}
	}
	keysAndValues = append(prefix, keysAndValues...)
	l.levelToLogger[level](msg, keysAndValues...)
}

func withDefaultFields(_ context.Context, callerSkip int, t time.Time, keysAndValues ...interface{}) []interface{} {
	fields := []interface{}{
		"caller", getCaller(callerSkip),
		"ts", t,
	}
	return append(fields, keysAndValues...)
}

func getCaller(skip int) string {
	const skipOffset = 5
	pc := make([]uintptr, 1)
	numFrames := runtime.Callers(skip+skipOffset, pc)
	if numFrames < 1 {
		return ""
	}
	frame, _ := runtime.CallersFrames(pc).Next()
	if frame.PC == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}

// Debug logs msg and keysAndValues at DebugLevel.
func (l *Logger) Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, DebugLevel, 1, msg, keysAndValues)
}

// Info logs msg and keysAndValues at InfoLevel.
func (l *Logger) Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, InfoLevel, 1, msg, keysAndValues)
}

// Warn logs msg and keysAndValues at WarnLevel.
func (l *Logger) Warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, WarnLevel, 1, msg, keysAndValues)
}

// Error logs msg and keysAndValues at ErrorLevel.
func (l *Logger) Error(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, ErrorLevel, 1, msg, keysAndValues)
}

// Fatal logs msg and keysAndValues at FatalLevel, then calls os.Exit(1).
func (l *Logger) Fatal(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, FatalLevel, 1, msg, keysAndValues)
}
