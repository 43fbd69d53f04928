// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress

import (
	"log"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the queue length used when NewAsync gets a
// non-positive size.
const DefaultBufferSize = 1024

// Async delivers events to another Reporter on a dedicated goroutine.
// Emit never blocks: when the queue is full the event is dropped and a
// warning is logged. Delivery order matches Emit order.
type Async struct {
	next Reporter
	ch   chan Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
}

// NewAsync starts a delivery goroutine in front of next.
func NewAsync(next Reporter, size int) *Async {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if next == nil {
		next = Discard
	}
	a := &Async{
		next: next,
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

// Emit queues ev for delivery.
func (a *Async) Emit(ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		n := a.dropped.Add(1)
		// Log the first drop and then every hundredth so a stalled
		// reporter does not flood the log while a stream is running.
		if n == 1 || n%100 == 0 {
			log.Printf("WARNING: progress queue full, dropped %d event(s)", n)
		}
	}
}

// Close stops accepting events and waits until everything queued has been
// delivered. It is safe to call more than once.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Async) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.deliver(ev)
	}
}

func (a *Async) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARNING: progress reporter panicked: %v", r)
		}
	}()
	a.next.Emit(ev)
}
