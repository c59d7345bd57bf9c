// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package statusreport implements a periodic operational status line for
// docserverd, logged through internal/log at a fixed interval. Updates
// are serialized through a request channel serviced by a single
// goroutine, the same pattern the upstream status reporter uses to
// multiplex terminal writes and status snapshots onto one writer.
package statusreport

import (
	"context"
	"time"

	"github.com/grailbio/docserver/internal/log"
)

// Snapshot is a point-in-time summary of server activity.
type Snapshot struct {
	Documents       int
	ActiveSessions  int
	ActiveWriters   int
	QueuedWriters   int
	ConnectionsUsed int
}

type req struct {
	snapshot Snapshot
	done     chan struct{}
}

// Reporter periodically logs the most recently published Snapshot. The
// zero value is not usable; construct with New.
type Reporter struct {
	period time.Duration
	reqc   chan req
	stopc  chan struct{}
	donec  chan struct{}
}

// New returns a Reporter that logs the latest published snapshot every
// period, until Stop is called. The returned Reporter is inert until Go
// is called.
func New(period time.Duration) *Reporter {
	return &Reporter{
		period: period,
		reqc:   make(chan req),
		stopc:  make(chan struct{}),
		donec:  make(chan struct{}),
	}
}

// Publish records the current snapshot to be logged at the next tick.
// Publish blocks until the reporter's goroutine has accepted the update.
func (r *Reporter) Publish(snapshot Snapshot) {
	done := make(chan struct{})
	select {
	case r.reqc <- req{snapshot, done}:
		<-done
	case <-r.stopc:
	}
}

// Go starts the reporter's service loop. It returns once Stop is called.
func (r *Reporter) Go(ctx context.Context) {
	defer close(r.donec)
	tick := time.NewTicker(r.period)
	defer tick.Stop()
	var current Snapshot
	var haveSnapshot bool
	for {
		select {
		case rq := <-r.reqc:
			current = rq.snapshot
			haveSnapshot = true
			close(rq.done)
		case <-tick.C:
			if !haveSnapshot {
				continue
			}
			log.Info(ctx, "status",
				"documents", current.Documents,
				"sessions", current.ActiveSessions,
				"active_writers", current.ActiveWriters,
				"queued_writers", current.QueuedWriters,
				"connections_used", current.ConnectionsUsed,
			)
		case <-r.stopc:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the reporter's service loop and waits for Go to return.
func (r *Reporter) Stop() {
	close(r.stopc)
	<-r.donec
}
