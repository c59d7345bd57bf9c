// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package admission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/docserver/internal/admission"
)

// grant blocks until session holding ticket is granted the head of q,
// failing the test if ctx expires first.
func grant(t *testing.T, ctx context.Context, q *admission.Queue, session interface{}, ticket admission.Ticket) {
	t.Helper()
	for {
		if q.TryClaim(session, ticket) {
			return
		}
		if err := q.Wait(ctx); err != nil {
			t.Fatalf("session %v ticket %v: %v", session, ticket, err)
		}
	}
}

// TestSingleWriterAdmission exercises A1: only one writer commits at a
// time, and every enqueued writer is eventually granted.
func TestSingleWriterAdmission(t *testing.T) {
	q := admission.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tA := q.Enqueue("A", 3)
	tB := q.Enqueue("B", 3)

	grant(t, ctx, q, "A", tA)
	if q.TryClaim("B", tB) {
		t.Fatal("B must not be granted while A is committing")
	}
	q.ReleaseAfterCommit()
	grant(t, ctx, q, "B", tB)
	q.ReleaseAfterCommit()
}

// TestShortestJobFirst exercises P3: writers with distinct estimated
// line counts commit in ascending order.
func TestShortestJobFirst(t *testing.T) {
	q := admission.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tBig := q.Enqueue("big", 9)
	tSmall := q.Enqueue("small", 1)
	tMed := q.Enqueue("med", 5)

	grant(t, ctx, q, "small", tSmall)
	q.ReleaseAfterCommit()
	grant(t, ctx, q, "med", tMed)
	q.ReleaseAfterCommit()
	grant(t, ctx, q, "big", tBig)
	q.ReleaseAfterCommit()
}

// TestFIFOTieBreak exercises P4: writers with equal estimated line
// counts commit in enqueue order.
func TestFIFOTieBreak(t *testing.T) {
	q := admission.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	t1 := q.Enqueue("first", 4)
	t2 := q.Enqueue("second", 4)
	t3 := q.Enqueue("third", 4)

	grant(t, ctx, q, "first", t1)
	q.ReleaseAfterCommit()
	grant(t, ctx, q, "second", t2)
	q.ReleaseAfterCommit()
	grant(t, ctx, q, "third", t3)
	q.ReleaseAfterCommit()
}

// TestCancelRemovesPending exercises P8: a session that disconnects
// while enqueued but not yet granted leaves no orphan entry.
func TestCancelRemovesPending(t *testing.T) {
	q := admission.NewQueue()
	tA := q.Enqueue("A", 3)
	tB := q.Enqueue("B", 3)
	if got, want := q.Len(), 2; got != want {
		t.Fatalf("Len before cancel: got %d, want %d", got, want)
	}
	q.Cancel("B", tB)
	if got, want := q.Len(), 1; got != want {
		t.Fatalf("Len after cancel: got %d, want %d", got, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	grant(t, ctx, q, "A", tA)
	q.ReleaseAfterCommit()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got len %d", q.Len())
	}
}

// TestCancelDuringCommitIsNoOp exercises the §4.3 disconnect-mid-commit
// case: cancel after grant (but before release) must not disturb the
// in-flight commit or the queue's invariants.
func TestCancelDuringCommitIsNoOp(t *testing.T) {
	q := admission.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tA := q.Enqueue("A", 1)
	grant(t, ctx, q, "A", tA)
	// A has already left pending; Cancel must be a no-op now.
	q.Cancel("A", tA)
	q.ReleaseAfterCommit()

	tB := q.Enqueue("B", 1)
	grant(t, ctx, q, "B", tB)
	q.ReleaseAfterCommit()
}

// TestNoStarvationUnderConcurrentArrivals exercises the no-permanent-
// starvation guarantee: every writer, however long, eventually commits
// even under a stream of shorter concurrent writers.
func TestNoStarvationUnderConcurrentArrivals(t *testing.T) {
	q := admission.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tBig := q.Enqueue("big", 100)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			session := i
			ticket := q.Enqueue(session, 1)
			grant(t, ctx, q, session, ticket)
			q.ReleaseAfterCommit()
		}(i)
	}
	wg.Wait()

	grant(t, ctx, q, "big", tBig)
	q.ReleaseAfterCommit()
}

// TestRegistryPerSectionIsolation verifies that distinct (doc, section)
// keys get independent queues, and repeated lookups return the same
// queue.
func TestRegistryPerSectionIsolation(t *testing.T) {
	r := admission.NewRegistry()
	q1 := r.Queue(0, 0)
	q2 := r.Queue(0, 1)
	if q1 == q2 {
		t.Fatal("expected distinct queues for distinct sections")
	}
	if r.Queue(0, 0) != q1 {
		t.Fatal("expected stable queue identity for repeated lookups")
	}
}
