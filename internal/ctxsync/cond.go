// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ctxsync

import (
	"context"
	"sync"
)

// Cond is a context-aware condition variable, analogous to sync.Cond but
// with a Wait that can be interrupted by context cancellation. A Cond must
// not be copied after first use.
type Cond struct {
	L sync.Locker

	mu     sync.Mutex // protects notify
	notify chan struct{}
}

// NewCond returns a new Cond with Locker l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l, notify: make(chan struct{})}
}

// Wait releases L and suspends execution of the calling goroutine until
// either Broadcast is called or ctx is done. Wait re-acquires L before
// returning, exactly like sync.Cond.Wait, so the caller must re-check
// whatever condition it is waiting for. As with sync.Cond, the caller must
// hold L when calling Wait.
//
// If ctx is done before a Broadcast wakes the waiter, Wait returns
// ctx.Err(); L is held again on return, and the caller must still check
// its condition.
func (c *Cond) Wait(ctx context.Context) error {
	c.mu.Lock()
	n := c.notify
	c.mu.Unlock()

	c.L.Unlock()
	defer c.L.Lock()

	select {
	case <-n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast wakes all goroutines waiting on c. It is customary, but not
// required, to hold L while calling Broadcast.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

// Signal wakes one goroutine waiting on c, if any. The current
// implementation wakes all waiters (as Broadcast does); callers should not
// rely on only one waiter being woken.
func (c *Cond) Signal() {
	c.Broadcast()
}
