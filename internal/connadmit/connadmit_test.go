// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package connadmit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/docserver/internal/retry"
	"github.com/grailbio/docserver/internal/traverse"
)

func checkState(t *testing.T, c *controller, max, used int) {
	t.Helper()
	if c.used != used {
		t.Errorf("c.used: got %d, want %d", c.used, used)
	}
	if c.max != max {
		t.Errorf("c.max: got %d, want %d", c.max, max)
	}
}

func TestController(t *testing.T) {
	c := newController(10, 15, nil)
	if err := c.Acquire(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	checkState(t, c, 10, 5)
	if err := c.Acquire(context.Background(), 6); err != nil {
		t.Fatal(err)
	}
	c.Release(5, false)
	checkState(t, c, 9, 6)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	if want, got := context.DeadlineExceeded, c.Acquire(ctx, 4); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	cancel()
	c.Release(6, true)
	checkState(t, c, 9, 0)
	if err := c.Acquire(context.Background(), 18); err != nil {
		t.Fatal(err)
	}
	checkState(t, c, 9, 18)
	c.Release(17, true)
	checkState(t, c, 15, 1)
	ctx, cancel = context.WithTimeout(context.Background(), time.Millisecond)
	if want, got := context.DeadlineExceeded, c.Acquire(ctx, 18); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	cancel()
	checkState(t, c, 15, 1)
	c.Release(1, true)
	checkState(t, c, 15, 0)
}

func TestControllerConcurrently(t *testing.T) {
	const (
		N = 100
		T = 100
	)
	var pending int32
	c := Controller(T, T)
	var begin sync.WaitGroup
	begin.Add(N)
	err := traverse.Each(N).Do(func(i int) error {
		begin.Done()
		n := rand.Intn(T/10) + 1
		if err := c.Acquire(context.Background(), n); err != nil {
			return err
		}
		if m := atomic.AddInt32(&pending, int32(n)); m > T {
			return fmt.Errorf("too many tokens: %d > %d", m, T)
		}
		atomic.AddInt32(&pending, -int32(n))
		c.Release(n, (i > 10 && i < 20) || (i > 70 && i < 80))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDo(t *testing.T) {
	someErr := errors.New("some other error")
	c := newController(100, 10000, nil)
	if err := Do(context.Background(), c, 150, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	checkState(t, c, 150, 0)
	if want, got := ErrOverCapacity, Do(context.Background(), c, 10, func() error { return ErrOverCapacity }); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	checkState(t, c, 135, 0)
	if err := c.Acquire(context.Background(), 35); err != nil {
		t.Fatal(err)
	}
	checkState(t, c, 135, 35)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	if want, got := context.DeadlineExceeded, Do(ctx, c, 114, func() error { return someErr }); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	cancel()
	checkState(t, c, 135, 35)
	if want, got := someErr, Do(context.Background(), c, 113, func() error { return someErr }); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	checkState(t, c, 148, 35)
	if err := Do(context.Background(), c, 127, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestRetry(t *testing.T) {
	const N = 1000
	c := ControllerWithRetry(200, 1000, retry.MaxRetries(retry.Backoff(100*time.Millisecond, time.Minute, 1.5), 5))
	var begin sync.WaitGroup
	begin.Add(N)
	err := traverse.Each(N).Do(func(i int) error {
		begin.Done()
		begin.Wait()
		randFunc := func() error {
			if i%2 == 0 {
				time.Sleep(time.Millisecond * time.Duration(20+rand.Intn(50)))
				if rand.Intn(100) < 5 {
					return ErrOverCapacity
				}
			}
			time.Sleep(time.Millisecond * time.Duration(5+rand.Intn(20)))
			return nil
		}
		n := rand.Intn(20) + 1
		return Retry(context.Background(), c, n, randFunc)
	})
	if err != nil {
		t.Fatal(err)
	}
}
