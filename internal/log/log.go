// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import "context"

// std is the process-wide default Logger. SetDefault replaces it; the
// package-level functions below delegate to it.
var std = NewLogger(Config{OutputPaths: []string{"stderr"}, Level: InfoLevel})

// SetDefault replaces the process-wide default Logger, returning the
// previous one. It is intended to be called once, early in main().
func SetDefault(l *Logger) *Logger {
	old := std
	std = l
	return old
}

// Debug logs msg at DebugLevel using the default Logger.
func Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	std.log(ctx, DebugLevel, 1, msg, keysAndValues)
}

// Info logs msg at InfoLevel using the default Logger.
func Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	std.log(ctx, InfoLevel, 1, msg, keysAndValues)
}

// Warn logs msg at WarnLevel using the default Logger.
func Warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	std.log(ctx, WarnLevel, 1, msg, keysAndValues)
}

// Error logs msg at ErrorLevel using the default Logger.
func Error(ctx context.Context, msg string, keysAndValues ...interface{}) {
	std.log(ctx, ErrorLevel, 1, msg, keysAndValues)
}

// Fatal logs msg at FatalLevel using the default Logger, then exits.
func Fatal(ctx context.Context, msg string, keysAndValues ...interface{}) {
	std.log(ctx, FatalLevel, 1, msg, keysAndValues)
}
