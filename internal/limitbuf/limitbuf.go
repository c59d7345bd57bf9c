// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package limitbuf implements a capacity-bounded byte accumulator that
// silently drops data past its limit instead of growing unbounded.
package limitbuf

import "strings"

// Logger is like strings.Builder, but with a maximum length. Data written
// beyond the capacity is dropped, and String appends "(truncated)" once
// truncation has occurred.
type Logger struct {
	maxLen       int
	truncated    bool
	addedTrailer bool
	b            strings.Builder
}

// NewLogger creates a new Logger with the given capacity.
func NewLogger(maxLen int) *Logger {
	return &Logger{maxLen: maxLen}
}

// Write implements io.Writer. It always reports success, even when data is
// silently truncated, matching the behavior callers expect of an
// accumulator that must never block or fail a caller mid-protocol.
func (b *Logger) Write(data []byte) (int, error) {
	n := b.maxLen - b.b.Len()
	if n > len(data) {
		n = len(data)
	}
	if n > 0 {
		b.b.Write(data[:n])
	}
	if n < len(data) {
		b.truncated = true
	}
	return len(data), nil
}

// Len reports the number of bytes retained so far (excluding any trailer).
func (b *Logger) Len() int {
	if b.addedTrailer {
		return b.b.Len() - len("(truncated)")
	}
	return b.b.Len()
}

// Truncated reports whether any data written to b has been dropped.
func (b *Logger) Truncated() bool {
	return b.truncated
}

// String reports the data written so far. If the data exceeded the buffer
// capacity, the retained prefix is followed by "(truncated)".
func (b *Logger) String() string {
	if b.truncated && !b.addedTrailer {
		b.b.WriteString("(truncated)")
		b.addedTrailer = true
	}
	return b.b.String()
}

// Reset clears b so it can be reused for the next line or record.
func (b *Logger) Reset() {
	b.b.Reset()
	b.truncated = false
	b.addedTrailer = false
}
