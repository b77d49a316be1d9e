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

// Package keylb provides a per-worker connection pool that routes
// key-addressed requests to the backends of a named group. It is meant
// to sit between a proxy's downstream-facing filter and its upstream
// connections: the filter hands it a key (or an explicit address) and
// an encoded request, and the pool picks a backend, lazily creates or
// reuses a connection to it, and forwards the request.
//
// To create a pool use [New], providing the group name, a
// [membership.Provider] that tracks the group, a [client.Factory] for
// the underlying connections, and a [balancer.Balancer] selection
// policy. The pool mirrors membership changes continuously: a group
// update tears down the previous generation's connections before
// adopting the new backend set, removed members have their connections
// closed immediately, and a closed connection (from either side) is
// removed from the pool exactly once and torn down after the close
// notification has fully unwound.
//
// # Concurrency
//
// The pool shards its state across a fixed number of workers, each
// owned by its own [eventloop.Loop]. All mutation of a worker's state
// happens as tasks on its loop, so none of it is guarded by locks.
// The only cross-goroutine surface is the dispatching facade itself.
//
// # Routing modes
//
// [Pool.MakeRequest] routes by key: the effective hash key (after
// optional hashtag extraction, see [balancer.Hashtag]) is given to the
// balancer to pick among the group's current backends.
// [Pool.MakeRequestToHost] bypasses the balancer and routes to an
// explicit "host:port" string; addresses outside the tracked
// membership get a synthetic backend created on the fly, bounded by an
// LRU (see [WithMaxSyntheticBackends]).
//
// Both return a nil handle when the request cannot be routed: no group
// is being tracked, the balancer found no usable backend, or the
// address string is malformed. Callers must treat a nil handle as
// "unavailable" and must not retry through the pool.
package keylb
