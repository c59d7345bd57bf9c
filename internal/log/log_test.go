// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	encoderConfig := newEncoderConfig()
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buf), zap.DebugLevel)
	l := NewLoggerFromCore(zap.New(core).Sugar())
	l.now = func() time.Time { return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC) }
	return l
}

func TestLoggerIncludesSessionField(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	id, _ := uuid.Parse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	ctx := WithSessionID(context.Background(), id)

	l.Info(ctx, "hello world", "key", "value")

	var fields map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	if got, want := fields["msg"], "hello world"; got != want {
		t.Errorf("msg: got %v, want %v", got, want)
	}
	if got, want := fields["session"], id.String(); got != want {
		t.Errorf("session: got %v, want %v", got, want)
	}
	if got, want := fields["key"], "value"; got != want {
		t.Errorf("key: got %v, want %v", got, want)
	}
}

func TestLoggerDanglingKeyIsDropped(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.Info(context.Background(), "hello", "onlykey")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if got, want := len(lines), 2; got != want {
		t.Fatalf("got %d log lines, want %d: %s", got, want, buf.String())
	}
	var warning map[string]interface{}
	if err := json.Unmarshal(lines[0], &warning); err != nil {
		t.Fatalf("invalid json log line %q: %v", lines[0], err)
	}
	if got, want := warning["msg"], "Ignored key without a value."; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
