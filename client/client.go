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

// Package client defines the interfaces between the pool and the
// underlying upstream connection implementation. The pool owns no wire
// protocol of its own: requests and responses are opaque values that
// the connection implementation's codec understands. Implementations
// of these interfaces perform all backend I/O asynchronously and
// invoke completion and close callbacks back on the loop of the pool
// that owns the connection.
package client

import (
	"time"

	"github.com/bufbuild/keylb/backend"
	"github.com/bufbuild/keylb/eventloop"
)

// Request is an encoded upstream request. Its concrete type is owned
// by the connection implementation's codec.
type Request any

// Response is a decoded upstream response. Its concrete type is owned
// by the connection implementation's codec.
type Response any

// Callbacks receives the outcome of a request issued through a Conn.
// Exactly one of the two methods is invoked per request.
type Callbacks interface {
	// OnResponse is called with the decoded response.
	OnResponse(response Response)
	// OnFailure is called when the request cannot be completed, for
	// example because the connection closed while it was in flight.
	OnFailure(err error)
}

// Handle represents one in-flight request. The pool returns it to the
// caller without tracking it further; cancellation is between the
// holder of the handle and the connection.
type Handle interface {
	// Cancel abandons the request. The Callbacks for the request will
	// not be invoked after Cancel returns.
	Cancel()
}

// Conn is a single connection to one backend.
//
// Close must synchronously invoke any registered close watchers before
// returning, and a connection that is closed by the remote side must
// invoke them from a task on the loop the connection was created with.
// Watchers are invoked at most once per connection, regardless of how
// many times or from which side the connection is closed. Any requests
// in flight when the connection closes must be failed through their
// own Callbacks; the pool does not track them.
type Conn interface {
	// MakeRequest issues a request on this connection. It returns nil
	// if the request cannot be issued at all.
	MakeRequest(req Request, cbs Callbacks) Handle
	// AddCloseWatcher registers a function to be invoked when the
	// connection closes, whether locally or remotely initiated.
	AddCloseWatcher(watcher func())
	// Close closes the connection.
	Close()
}

// Factory creates connections. The loop passed to New is the loop of
// the pool that will own the connection; all callbacks into the pool
// (close watchers, request callbacks) must be delivered on it.
type Factory interface {
	New(target *backend.Backend, loop *eventloop.Loop, config Config) Conn
}

// Config is the per-connection configuration handed to the Factory.
type Config struct {
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// RequestTimeout bounds a single request, from write to decoded
	// response. Zero means no timeout.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default per-connection configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}
