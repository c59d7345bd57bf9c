// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package retry contains utilities for implementing retry logic.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/grailbio/docserver/internal/xerrors"
)

// A Policy is an interface that abstracts retry policies. Typically
// users will not call methods directly on a Policy but rather use
// the package function retry.Wait.
type Policy interface {
	// Retry tells whether a new retry should be attempted, and after how long.
	Retry(retry int) (bool, time.Duration)
}

// Wait queries the provided policy at the provided retry number and sleeps
// until the next try should be attempted. Wait returns an error if the
// policy prohibits further tries, or if the context was canceled, or if its
// deadline would run out while waiting for the next try.
func Wait(ctx context.Context, policy Policy, retry int) error {
	keepgoing, wait := policy.Retry(retry)
	if !keepgoing {
		return xerrors.E(xerrors.TooManyTries, "gave up after", retry, "tries")
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		return xerrors.E(xerrors.Timeout, "ran out of time while waiting for retry")
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type backoff struct {
	factor       float64
	initial, max time.Duration
}

// maxInt64Convertible is the maximum float64 that can be converted to an
// int64 accurately, used to avoid overflow in the exponential backoff math.
const maxInt64Convertible = int64(float64(9223372036854774784))

// MaxBackoffMax is the maximum value that can be passed as max to Backoff.
const MaxBackoffMax = time.Duration(maxInt64Convertible)

// BackoffWithTimeout returns a Policy that initially waits for the amount
// of time specified by initial; on each try this value is multiplied by
// factor, up to the max duration. Once the number of tries implied by max
// is exceeded, the policy stops retrying.
func BackoffWithTimeout(initial, max time.Duration, factor float64) Policy {
	n := int(math.Floor(math.Log(float64(max/initial))/math.Log(factor))) + 1
	return MaxRetries(Backoff(initial, max, factor), n)
}

// Backoff returns a Policy that initially waits for the amount of time
// specified by initial; on each try this value is multiplied by factor, up
// to the max duration.
func Backoff(initial, max time.Duration, factor float64) Policy {
	if max > MaxBackoffMax {
		panic("max > MaxBackoffMax")
	}
	return &backoff{initial: initial, max: max, factor: factor}
}

func (b *backoff) Retry(retries int) (bool, time.Duration) {
	if retries < 0 {
		panic("retries < 0")
	}
	ns := float64(b.initial) * math.Pow(b.factor, float64(retries))
	ns = math.Min(ns, float64(b.max))
	return true, time.Duration(int64(ns))
}

type jitter struct {
	policy Policy
	frac   float64
}

// Jitter returns a policy that jitters frac fraction of the wait times
// returned by the provided policy.
func Jitter(policy Policy, frac float64) Policy {
	return &jitter{policy, frac}
}

func (j *jitter) Retry(retries int) (bool, time.Duration) {
	ok, wait := j.policy.Retry(retries)
	if wait > 0 {
		prop := time.Duration(j.frac * float64(wait))
		wait = wait - prop + time.Duration(rand.Int63n(prop.Nanoseconds()))
	}
	return ok, wait
}

type maxtries struct {
	policy Policy
	max    int
}

// MaxRetries returns a policy that enforces a maximum number of attempts.
// If policy is nil, the returned policy permits an immediate retry within
// the allowable limits.
func MaxRetries(policy Policy, n int) Policy {
	if n < 1 {
		panic("retry.MaxRetries: n < 1")
	}
	return &maxtries{policy, n - 1}
}

func (m *maxtries) Retry(retries int) (bool, time.Duration) {
	if retries > m.max {
		return false, 0
	}
	if m.policy != nil {
		return m.policy.Retry(retries)
	}
	return true, 0
}
