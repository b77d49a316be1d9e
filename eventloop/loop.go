// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventloop provides a serialized task executor. A Loop owns a
// single goroutine that runs submitted tasks one at a time, in
// submission order. State that is only ever touched from tasks of one
// Loop needs no locking, which is the concurrency model used for each
// worker's pool state.
package eventloop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Loop is a serialized task executor. Tasks submitted with [Loop.Run]
// or [Loop.Do] execute one at a time on the loop's goroutine.
type Loop struct {
	wake chan struct{}
	done chan struct{}
	// +checkatomic
	gid atomic.Uint64

	mu sync.Mutex
	// +checklocks:mu
	queue []func()
	// +checklocks:mu
	closed bool

	// deferred is only touched by the loop goroutine.
	deferred []func()
}

// New creates a Loop and starts its goroutine. The Loop runs until
// [Loop.Close] is called.
func New() *Loop {
	loop := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go loop.run()
	return loop
}

// Run submits a task for asynchronous execution. It returns false if
// the loop is closed, in which case the task will never run.
func (l *Loop) Run(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do submits a task and waits until it has run. It returns false if
// the loop is closed and the task did not run.
//
// When the caller is itself a task running on this loop, the task runs
// inline instead of being submitted, since the loop cannot pick up new
// work until the current task returns. This makes Do safe to reach
// from callbacks the loop delivers, such as a request completion that
// issues a follow-up request.
func (l *Loop) Do(task func()) bool {
	if l.gid.Load() == goroutineID() {
		task()
		return true
	}
	ran := make(chan struct{})
	if !l.Run(func() {
		defer close(ran)
		task()
	}) {
		return false
	}
	<-ran
	return true
}

// Defer schedules a task to run after the currently-executing task
// (and any previously deferred tasks) complete, before the next
// submitted task. This allows an object to schedule its own teardown
// from inside one of its own callbacks without being torn down while
// its call stack is still executing.
//
// Defer may only be called from a task running on this loop.
func (l *Loop) Defer(task func()) {
	l.deferred = append(l.deferred, task)
}

// Close stops the loop after all previously submitted tasks have run,
// and waits for the loop goroutine to exit. Subsequent submissions
// return false. Close is safe to call multiple times.
func (l *Loop) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
	return nil
}

// goroutineID returns the id of the calling goroutine, parsed from
// its stack header ("goroutine 123 [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	header := buf[:runtime.Stack(buf[:], false)]
	header = header[len("goroutine "):]
	end := bytes.IndexByte(header, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(header[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (l *Loop) run() {
	defer close(l.done)
	l.gid.Store(goroutineID())
	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range tasks {
			task()
			l.runDeferred()
		}
		if closed {
			if len(tasks) == 0 {
				return
			}
			// Tasks may have been enqueued before closed was set;
			// sweep again until the queue is observed empty.
			continue
		}
		<-l.wake
	}
}

// runDeferred drains the deferred queue, including tasks deferred by
// deferred tasks themselves.
func (l *Loop) runDeferred() {
	for len(l.deferred) > 0 {
		pending := l.deferred
		l.deferred = nil
		for _, task := range pending {
			task()
		}
	}
}
