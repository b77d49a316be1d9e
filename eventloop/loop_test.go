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

package eventloop_test

import (
	"sync"
	"testing"

	"github.com/bufbuild/keylb/eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExecutesInOrder(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	defer loop.Close()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, loop.Run(func() {
			order = append(order, i)
		}))
	}
	require.True(t, loop.Do(func() {}))

	require.Len(t, order, 100)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestDoWaitsForTask(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	defer loop.Close()

	var ran bool
	require.True(t, loop.Do(func() { ran = true }))
	// Do returned, so the write above happened-before this read.
	assert.True(t, ran)
}

func TestDoFromLoopTaskRunsInline(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	defer loop.Close()

	// A task that calls Do on its own loop cannot wait for the loop
	// to pick the inner task up; it runs inline instead.
	var order []string
	require.True(t, loop.Do(func() {
		order = append(order, "outer")
		require.True(t, loop.Do(func() {
			order = append(order, "inner")
		}))
		order = append(order, "after")
	}))

	assert.Equal(t, []string{"outer", "inner", "after"}, order)
}

func TestRunFromManyGoroutines(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	defer loop.Close()

	var count int
	var group sync.WaitGroup
	for i := 0; i < 10; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			for i := 0; i < 100; i++ {
				loop.Run(func() { count++ })
			}
		}()
	}
	group.Wait()

	var got int
	require.True(t, loop.Do(func() { got = count }))
	assert.Equal(t, 1000, got)
}

func TestDeferRunsAfterCurrentTask(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	defer loop.Close()

	var order []string
	require.True(t, loop.Run(func() {
		loop.Defer(func() { order = append(order, "deferred") })
		order = append(order, "first")
	}))
	require.True(t, loop.Run(func() {
		order = append(order, "second")
	}))
	require.True(t, loop.Do(func() {}))

	assert.Equal(t, []string{"first", "deferred", "second"}, order)
}

func TestDeferNested(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	defer loop.Close()

	var order []string
	require.True(t, loop.Do(func() {
		loop.Defer(func() {
			order = append(order, "outer")
			loop.Defer(func() { order = append(order, "inner") })
		})
		order = append(order, "task")
	}))
	require.True(t, loop.Do(func() {}))

	assert.Equal(t, []string{"task", "outer", "inner"}, order)
}

func TestCloseDrainsPendingTasks(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()

	var count int
	for i := 0; i < 100; i++ {
		require.True(t, loop.Run(func() { count++ }))
	}
	require.NoError(t, loop.Close())

	// Close returns only after the loop goroutine exits, and the loop
	// runs every task accepted before closing.
	assert.Equal(t, 100, count)
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	require.NoError(t, loop.Close())

	assert.False(t, loop.Run(func() { t.Error("task ran after close") }))
	assert.False(t, loop.Do(func() { t.Error("task ran after close") }))
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	require.NoError(t, loop.Close())
	require.NoError(t, loop.Close())
}
