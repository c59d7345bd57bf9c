// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package admission implements the per-section serialized-writer
// admission engine: one queue per (document, section), admitting at
// most one committing writer at a time under a shortest-job-first
// ordering with ticket-based FIFO tie-breaking.
//
// The ordered pending set is a mutex-protected slice rather than a
// lock-free list, per the allowance in the source design notes; waiters
// block on a ctxsync.Cond signaled on every enqueue and
// release_after_commit, rather than busy-polling; Wait returns at once
// only while no request is committing and some request is pending.
package admission

import (
	"context"
	"sync"

	"github.com/grailbio/docserver/internal/ctxsync"
)

// Ticket identifies a WriteRequest for its lifetime: its enqueue order
// and its FIFO tie-break key among requests with equal EstimatedLines.
type Ticket int64

// request is a pending WriteRequest: a (session, estimated line count,
// ticket) triple awaiting grant.
type request struct {
	session        interface{}
	estimatedLines int
	ticket         Ticket
}

// Queue is the admission queue for a single (document, section) pair.
// The zero value is not usable; construct with NewQueue. A Queue must
// not be copied after first use.
type Queue struct {
	mu   sync.Mutex
	cond *ctxsync.Cond

	pending    []request
	nextTicket Ticket
	// cursor is the ticket currently eligible to commit; it is retired
	// (incremented) by ReleaseAfterCommit regardless of the specific
	// ticket value held by the head of pending, per §4.2's "commit-order
	// cursor" discipline. Nothing reads it; grant depends only on being
	// head of pending and !committing.
	cursor Ticket
	// committing is true between a Granted TryClaim and the matching
	// ReleaseAfterCommit, enforcing invariant A1.
	committing bool
}

// NewQueue returns an empty admission queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = ctxsync.NewCond(&q.mu)
	return q
}

// Enqueue assigns a new ticket to a WriteRequest for session with the
// given estimated line count, and inserts it into pending at the
// position determined by the ordering key (estimatedLines ASC, ticket
// ASC). It returns the assigned ticket.
func (q *Queue) Enqueue(session interface{}, estimatedLines int) Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	ticket := q.nextTicket
	q.nextTicket++
	r := request{session: session, estimatedLines: estimatedLines, ticket: ticket}

	i := 0
	for i < len(q.pending) && q.pending[i].estimatedLines <= estimatedLines {
		i++
	}
	q.pending = append(q.pending, request{})
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = r

	q.cond.Broadcast()
	return ticket
}

// TryClaim reports whether session, holding ticket, may begin
// committing: it must be the head of pending, and no other request may
// currently be in the committing phase. On success the request is
// removed from pending and the queue is marked committing until the
// matching ReleaseAfterCommit.
func (q *Queue) TryClaim(session interface{}, ticket Ticket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.committing || len(q.pending) == 0 {
		return false
	}
	head := q.pending[0]
	if head.session != session || head.ticket != ticket {
		return false
	}
	q.pending = q.pending[1:]
	q.committing = true
	return true
}

// Wait blocks until a wakeup occurs (a new enqueue, a cancel or a
// release), or until ctx is done, whichever comes first. If no request is
// committing and at least one is pending, Wait returns nil at once, so a
// release that happened after the caller's last TryClaim is not missed.
// Callers re-check TryClaim after Wait returns regardless of its error.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.committing && len(q.pending) > 0 {
		return nil
	}
	return q.cond.Wait(ctx)
}

// ReleaseAfterCommit retires the ticket that was granted by the last
// successful TryClaim, advancing the commit-order cursor by one and
// waking any waiters so the new head can be considered. It must be
// called exactly once per Granted claim.
func (q *Queue) ReleaseAfterCommit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cursor++
	q.committing = false
	q.cond.Broadcast()
}

// Cancel removes a pending request belonging to session with the given
// ticket, without advancing the commit cursor. It is a no-op if no such
// request is pending (e.g. it has already been claimed), matching the
// disconnect-while-committing case in §4.3, where the commit is allowed
// to run to completion.
func (q *Queue) Cancel(session interface{}, ticket Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.pending {
		if r.session == session && r.ticket == ticket {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.cond.Broadcast()
			return
		}
	}
}

// Len reports the number of requests currently pending (enqueued but
// not yet claimed).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
