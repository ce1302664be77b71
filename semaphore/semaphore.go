// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package semaphore bounds the number of client connections handled
// concurrently. The accept loop acquires one slot per connection and blocks
// when the pool is exhausted, letting the kernel accept queue absorb bursts.
package semaphore

import (
	"context"
)

// ConnSemaphore is a counting semaphore sized to the connection limit.
type ConnSemaphore struct {
	c chan struct{}
}

// New returns a semaphore holding max slots.
func New(max int) *ConnSemaphore {
	s := &ConnSemaphore{c: make(chan struct{}, max)}

	for i := 0; i < max; i++ {
		s.c <- struct{}{}
	}
	return s
}

// Acquire blocks until a slot is free or the context ends. It reports
// whether a slot was obtained.
func (s *ConnSemaphore) Acquire(ctx context.Context) bool {
	select {
	case <-s.c:
		return true
	case <-ctx.Done():
		return false
	}
}

// TryAcquire obtains a slot without blocking.
func (s *ConnSemaphore) TryAcquire() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}

// Release returns a slot to the pool.
func (s *ConnSemaphore) Release() {
	s.c <- struct{}{}
}

// Available reports how many slots are currently free.
func (s *ConnSemaphore) Available() int {
	return len(s.c)
}
