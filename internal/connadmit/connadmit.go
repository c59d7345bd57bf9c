// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package connadmit contains a lightweight admission controller used to
// cap the number of concurrently active client connections. It is
// unrelated to per-section write ordering: a connection can hold a
// connadmit token while it waits in line for a document section's write
// admission queue.
package connadmit

import (
	"context"
	"errors"
	"expvar"
	"sync"

	"github.com/grailbio/docserver/internal/ctxsync"
	"github.com/grailbio/docserver/internal/log"
	"github.com/grailbio/docserver/internal/retry"
)

var (
	admitMax  = expvar.NewMap("connadmit.max")
	admitUsed = expvar.NewMap("connadmit.used")
)

// Policy implements the low level details of an admission control
// policy. Callers typically use the package functions Do or Retry rather
// than calling Acquire/Release directly.
type Policy interface {
	// Acquire acquires a number of tokens from the admission controller.
	// Returns on success, or if the context was canceled. Acquire can
	// also return an error if need exceeds the upper limit of available
	// tokens.
	Acquire(ctx context.Context, need int) error

	// Release returns a number of tokens to the admission controller,
	// reporting whether the request that held them completed within
	// capacity.
	Release(tokens int, ok bool)
}

// RetryPolicy combines an admission controller with a retry policy.
type RetryPolicy interface {
	Policy
	retry.Policy
}

// ErrOverCapacity should be returned by the function passed to Do or Retry
// for it to be treated as an over-capacity error.
var ErrOverCapacity = errors.New("over capacity")

// Do calls fn after being admitted by policy. If fn returns
// ErrOverCapacity, that is reported to the underlying policy as a
// capacity failure. If policy is nil, Do simply calls fn.
func Do(ctx context.Context, policy Policy, tokens int, fn func() error) error {
	if policy == nil {
		return fn()
	}
	if err := policy.Acquire(ctx, tokens); err != nil {
		return err
	}
	var err error
	defer func(err *error) {
		policy.Release(tokens, *err != ErrOverCapacity)
	}(&err)
	err = fn()
	return err
}

// Retry calls fn under the combined retry and admission policy. If
// policy is nil, Retry simply calls fn.
func Retry(ctx context.Context, policy RetryPolicy, tokens int, fn func() error) error {
	if policy == nil {
		return fn()
	}
	var err error
	for retries := 0; ; retries++ {
		err = Do(ctx, policy, tokens, fn)
		if err != ErrOverCapacity {
			break
		}
		if err = retry.Wait(ctx, policy, retries); err != nil {
			break
		}
		log.Debug(ctx, "connadmit.Retry: over capacity, backing off", "retries", retries)
	}
	return err
}

const defaultLimitChangeRate = 0.1

func adjust(limit int, increase bool) int {
	var change float32
	if increase {
		change = 1.0 + defaultLimitChangeRate
	} else {
		change = 1.0 - defaultLimitChangeRate
	}
	return int(float32(limit) * change)
}

func min(x, y int) int {
	if x < y {
		return x
	}
	return y
}

type controller struct {
	retry.Policy
	max, used, limit int
	mu               sync.Mutex
	cond             *ctxsync.Cond
	maxVar, usedVar  expvar.Int
}

func newController(start, limit int, retryPolicy retry.Policy) *controller {
	c := &controller{Policy: retryPolicy, max: start, used: 0, limit: limit}
	c.cond = ctxsync.NewCond(&c.mu)
	return c
}

// Controller returns a Policy that starts with a concurrency limit of
// start connections and can grow up to limit as long as requests
// complete without reporting over-capacity. A controller is not fair:
// waiting connections are not admitted in FIFO order.
func Controller(start, limit int) Policy {
	return ControllerWithRetry(start, limit, nil)
}

// ControllerWithRetry is like Controller, but also attaches retryPolicy
// so Retry can back off between over-capacity attempts.
func ControllerWithRetry(start, limit int, retryPolicy retry.Policy) RetryPolicy {
	return newController(start, limit, retryPolicy)
}

// EnableVarExport publishes policy's current limit and usage under name
// via expvar, for operational visibility.
func EnableVarExport(policy Policy, name string) {
	if c, ok := policy.(*controller); ok {
		admitMax.Set(name, &c.maxVar)
		admitUsed.Set(name, &c.usedVar)
	}
}

// Acquire acquires need tokens from the controller, blocking until they
// are available or ctx is done.
func (c *controller) Acquire(ctx context.Context, need int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		lim := min(adjust(c.max, true), c.limit)
		have := lim - c.used
		if need <= have || (need > lim && c.used == 0) {
			c.used += need
			c.usedVar.Set(int64(c.used))
			return nil
		}
		if err := c.cond.Wait(ctx); err != nil {
			return err
		}
	}
}

// Release returns tokens to the controller, reporting whether the
// request that held them completed within capacity.
func (c *controller) Release(tokens int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		if c.used > c.max {
			c.max = min(c.used, c.limit)
		}
	} else {
		c.max = adjust(c.max, false)
	}
	c.used -= tokens

	c.maxVar.Set(int64(c.max))
	c.usedVar.Set(int64(c.used))
	c.cond.Broadcast()
}
