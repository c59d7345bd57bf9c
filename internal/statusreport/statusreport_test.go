// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package statusreport_test

import (
	"context"
	"testing"
	"time"

	"github.com/grailbio/docserver/internal/statusreport"
)

func TestReporterStop(t *testing.T) {
	r := statusreport.New(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Go(ctx)
		close(done)
	}()
	r.Publish(statusreport.Snapshot{Documents: 3, ActiveSessions: 2})
	time.Sleep(5 * time.Millisecond)
	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Go did not return after Stop")
	}
}

func TestReporterPublishMultiple(t *testing.T) {
	r := statusreport.New(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Go(ctx)
	for i := 0; i < 10; i++ {
		r.Publish(statusreport.Snapshot{Documents: i})
	}
	r.Stop()
}
